// internal/common/errors/handler.go
package errors

import (
	"captcha-relay/internal/common/metrics"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body written for every rejected request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ErrorHandler turns relay errors into logged, uniform HTTP responses.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Respond writes the error response and aborts the gin chain.
func (h *ErrorHandler) Respond(c *gin.Context, err error) {
	stdErr := Normalize(err)
	h.logError(c, stdErr)
	metrics.RejectionsTotal.WithLabelValues(string(stdErr.Code)).Inc()

	c.AbortWithStatusJSON(HTTPStatus(stdErr.Code), ErrorResponse{
		Success: false,
		Error:   stdErr.Message,
	})
}

func (h *ErrorHandler) logError(c *gin.Context, stdErr *StandardError) {
	fields := map[string]interface{}{
		"errorCode":     string(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
		"path":          c.FullPath(),
		"clientIp":      c.ClientIP(),
	}
	if requestID := c.GetString("requestId"); requestID != "" {
		fields["requestId"] = requestID
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}

	if !ShouldLogCause(stdErr.Code) {
		h.logger.Warn("request rejected", fields)
		return
	}

	fields["details"] = stdErr.Details
	h.logger.Error("request failed", fields)
}

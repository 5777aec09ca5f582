package verifytoken

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"captcha-relay/internal/common/config"
	"captcha-relay/internal/common/errors"
	commonhttp "captcha-relay/internal/common/http"
	"captcha-relay/internal/common/logger"
	"captcha-relay/internal/common/metrics"
	"captcha-relay/internal/common/observability"

	"github.com/gin-gonic/gin"
)

const (
	TaskType = "verify-token"
	Route    = "/verify-token"
)

// Verifier is the relay operation the handler depends on.
type Verifier interface {
	Verify(ctx context.Context, input *Input) (*Output, error)
}

// Responder renders an error response and aborts the request.
type Responder interface {
	Respond(c *gin.Context, err error)
}

type Handler struct {
	config    *Config
	logger    logger.Logger
	service   Verifier
	responder Responder
}

type HandlerOptions struct {
	AppConfig     *config.Config
	CustomConfig  *Config
	Logger        logger.Logger
	Service       Verifier
	Responder     Responder
	HTTPClient    *commonhttp.Client
	Observability *observability.Observability
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	handlerConfig, err := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration for verify-token: %w", err)
	}
	if err := handlerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for verify-token: %w", err)
	}

	var loggerInstance logger.Logger
	if opts.Logger != nil {
		loggerInstance = opts.Logger
	} else {
		loggerInstance = logger.NewStructured("info", "json")
	}

	handler := &Handler{
		config:    handlerConfig,
		logger:    loggerInstance.WithFields(map[string]interface{}{"taskType": TaskType}),
		service:   opts.Service,
		responder: opts.Responder,
	}

	if handler.responder == nil {
		handler.responder = errors.NewErrorHandler(loggerInstance)
	}
	if handler.service == nil {
		handler.service = NewService(ServiceDependencies{
			Logger:        loggerInstance,
			HTTPClient:    opts.HTTPClient,
			Observability: opts.Observability,
		}, handlerConfig)
	}

	return handler, nil
}

// Handle serves POST /verify-token.
func (h *Handler) Handle(c *gin.Context) {
	metrics.RequestsInFlight.Inc()
	defer metrics.RequestsInFlight.Dec()

	if !isJSON(c.GetHeader("Content-Type")) {
		h.responder.Respond(c, errors.NewUnsupportedMediaTypeError(c.GetHeader("Content-Type")))
		return
	}

	input, err := h.parseInput(c)
	if err != nil {
		h.responder.Respond(c, err)
		return
	}

	// The browser going away must not abort a call already sent upstream.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.config.Timeout)
	defer cancel()

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.responder.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.service.Verify(ctx, input)
}

func (h *Handler) parseInput(c *gin.Context) (*Input, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.NewInvalidRequestError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, errors.NewInvalidRequestError(fmt.Sprintf("failed to read body: %v", err))
	}

	validationResult := inputValidator.ValidateBytes(body)
	if !validationResult.Valid {
		return nil, errors.NewInvalidRequestError(
			fmt.Sprintf("validation errors: %s", strings.Join(validationResult.GetErrorMessages(), "; ")),
		)
	}

	var input Input
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, errors.NewInvalidRequestError(fmt.Sprintf("decode body: %v", err))
	}
	input.ClientIP = c.ClientIP()

	return &input, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

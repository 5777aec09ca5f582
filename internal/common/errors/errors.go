// Package errors provides the relay's standardized error taxonomy and its
// mapping onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode is the internal reason code attached to every rejection.
type ErrorCode string

const (
	ErrCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrCodeUnsupportedMedia    ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeOriginRejected      ErrorCode = "ORIGIN_REJECTED"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamMalformed   ErrorCode = "UPSTREAM_MALFORMED"
	ErrCodeVerificationFailed  ErrorCode = "VERIFICATION_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// Public messages. Upstream causes never reach the caller.
const (
	MsgInvalidRequest     = "Invalid verification request"
	MsgUnsupportedMedia   = "Content-Type must be application/json"
	MsgOriginRejected     = "Origin not allowed"
	MsgRateLimited        = "Too many requests"
	MsgTokenVerification  = "Token verification failed"
	MsgInternal           = "Internal server error"
	MsgVerificationFailed = "Captcha verification failed"
)

// StandardError represents a structured relay error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a log-only key/value and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidRequestError is raised for a missing, empty or mistyped token.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   MsgInvalidRequest,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsupportedMediaTypeError is raised when the body is not declared JSON.
func NewUnsupportedMediaTypeError(contentType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedMedia,
		Message:   MsgUnsupportedMedia,
		Details:   fmt.Sprintf("contentType: %q", contentType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOriginRejectedError is raised by the origin guard.
func NewOriginRejectedError(origin string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOriginRejected,
		Message:   MsgOriginRejected,
		Details:   fmt.Sprintf("origin: %q", origin),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError is raised when a client exceeds its window.
func NewRateLimitedError(clientIP string, retryAfter time.Duration) *StandardError {
	err := &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   MsgRateLimited,
		Details:   fmt.Sprintf("clientIp: %s", clientIP),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
	return err.WithMetadata("retryAfter", retryAfter.String())
}

// NewUpstreamUnavailableError covers transport failures, timeouts and
// non-2xx responses from the verification service.
func NewUpstreamUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamUnavailable,
		Message:   MsgTokenVerification,
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewUpstreamMalformedError covers non-JSON payloads or payloads missing the
// success flag.
func NewUpstreamMalformedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamMalformed,
		Message:   MsgTokenVerification,
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewVerificationFailedError records an explicit success:false from upstream.
// It is a logging and metrics value; the caller still gets a 200.
func NewVerificationFailedError(errorCodes []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeVerificationFailed,
		Message:   MsgVerificationFailed,
		Details:   strings.Join(errorCodes, ","),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps anything the relay did not classify.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   MsgInternal,
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. HTTP Mapping
// ==========================

// HTTPStatus returns the response status for an error code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case ErrCodeOriginRejected:
		return http.StatusForbidden
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeVerificationFailed:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// IsUpstreamError reports whether the code describes a failure talking to the
// verification service.
func IsUpstreamError(code ErrorCode) bool {
	return code == ErrCodeUpstreamUnavailable || code == ErrCodeUpstreamMalformed
}

// ShouldLogCause reports whether the underlying cause belongs in the error log.
// Caller mistakes and policy rejections are not server-side faults.
func ShouldLogCause(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidRequest, ErrCodeUnsupportedMedia, ErrCodeOriginRejected, ErrCodeRateLimited:
		return false
	}
	return true
}

// GetErrorCategory groups codes for dashboards.
func GetErrorCategory(code ErrorCode) string {
	switch {
	case IsUpstreamError(code):
		return "UPSTREAM"
	case code == ErrCodeOriginRejected || code == ErrCodeRateLimited:
		return "ACCESS"
	case code == ErrCodeInvalidRequest || code == ErrCodeUnsupportedMedia:
		return "VALIDATION"
	case code == ErrCodeVerificationFailed:
		return "VERIFICATION"
	default:
		return "OTHER"
	}
}

// ==========================
// 4. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, INTERNAL_ERROR for unclassified errors
// and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// Normalize ensures callers always deal with a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

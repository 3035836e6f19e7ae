package gateway

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Error taxonomy.
//
// Known failures carry an HTTP-like status code and a client-safe message.
// Anything else is masked to a generic envelope before it reaches the
// client; the full error is logged (and reported) server-side only.
// ---------------------------------------------------------------------------

const (
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeInternal     = 500
)

func codeName(code int) string {
	switch code {
	case CodeBadRequest:
		return "BadRequest"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeForbidden:
		return "Forbidden"
	case CodeNotFound:
		return "NotFound"
	default:
		return "InternalError"
	}
}

// GatewayError is a typed failure safe to serialize to the client.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", codeName(e.Code), e.Message)
}

// NewError builds a GatewayError with the given code and client message.
func NewError(code int, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// Envelope is the client-visible error shape emitted on the exception event.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Reporter receives unrecognized errors for external error tracking.
// The gateway never blocks on it.
type Reporter interface {
	Report(err error)
}

// MapError converts any error into the client-visible envelope. Known
// GatewayErrors pass through; everything else is masked, logged with full
// detail, and handed to the reporter when one is configured.
func MapError(err error, logger *zap.Logger, reporter Reporter) Envelope {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return Envelope{Status: gwErr.Code, Message: gwErr.Message}
	}

	logger.Error("unexpected gateway error", zap.Error(err))
	if reporter != nil {
		reporter.Report(err)
	}
	return Envelope{Status: CodeInternal, Message: "internal server error"}
}

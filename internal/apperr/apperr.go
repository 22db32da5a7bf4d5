// Package apperr defines the service's typed error taxonomy and its
// mapping to HTTP status codes. Internal causes are carried for logging
// but never serialized to callers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind categorizes an error for HTTP status mapping and logging.
type Kind string

const (
	Validation          Kind = "validation"
	Unauthenticated     Kind = "unauthenticated"
	AuthFailed          Kind = "auth_failed"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	InsufficientCredits Kind = "insufficient_credits"
	LimitExceeded       Kind = "limit_exceeded"
	Timeout             Kind = "timeout"
	EngineError         Kind = "engine_error"
	Internal            Kind = "internal"
)

// Error is a typed domain error carrying a machine-readable kind, a
// sanitized human message, and optional structured data for the response
// body (e.g. currentBalance, reason).
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an internal cause to a new *Error without leaking the cause
// text to callers; the cause is only ever logged, never serialized.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithData attaches response-body fields (e.g. currentBalance, reason) and
// returns the same error for chaining.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// Cause returns the wrapped internal error, if any, for logging only.
func (e *Error) Cause() error { return e.cause }

// HTTPStatus maps a Kind to its HTTP response status.
func HTTPStatus(k Kind) int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case AuthFailed:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case InsufficientCredits:
		return http.StatusPaymentRequired
	case LimitExceeded:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case EngineError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, or synthesizes an Internal one wrapping it.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(Internal, "internal error", err)
}

package service

import (
	"errors"
	"fmt"
)

// Response codes shared with the gateway envelope
const (
	CodeOK           = 0
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeInternal     = 500
)

// Error is a failure that maps onto a gateway response code
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest creates a validation error
func BadRequest(format string, args ...any) *Error {
	return &Error{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized creates an authentication error
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

// NotFound creates an unresolved resource error
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure
func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// AsError extracts a *Error from err. Anything else becomes an internal error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal server error", err)
}

// ErrNoWebhookURL is returned when an integration has no webhook target configured
var ErrNoWebhookURL = errors.New("webhook url not configured")

// ErrBaselineUnavailable is returned when no baseline could be resolved in time
var ErrBaselineUnavailable = errors.New("carbon baseline unavailable")

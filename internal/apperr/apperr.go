// Package apperr defines the error taxonomy shared by the engine and HTTP layers.
package apperr

import (
	"errors"
	"net/http"
)

// Error codes exposed to clients.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeConflict        = "CONFLICT"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthenticated = "UNAUTHORIZED"
	CodeInternal        = "INTERNAL_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
)

// Error is a classified failure carrying its HTTP status. Cause is never shown
// to clients.
type Error struct {
	Code    string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code string, status int, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Validation reports malformed input.
func Validation(message string) *Error {
	return newError(CodeValidation, http.StatusBadRequest, message)
}

// Conflict reports a request that contradicts the current state.
func Conflict(message string) *Error {
	return newError(CodeConflict, http.StatusConflict, message)
}

// Forbidden reports an actor that is not a party to the resource.
func Forbidden(message string) *Error {
	return newError(CodeForbidden, http.StatusForbidden, message)
}

// NotFound reports a missing resource.
func NotFound(message string) *Error {
	return newError(CodeNotFound, http.StatusNotFound, message)
}

// Unauthenticated reports a missing or invalid session.
func Unauthenticated(message string) *Error {
	return newError(CodeUnauthenticated, http.StatusUnauthorized, message)
}

// RateLimited reports a caller that exceeded its request budget.
func RateLimited(message string) *Error {
	return newError(CodeRateLimited, http.StatusTooManyRequests, message)
}

// Internal wraps an unexpected failure behind a generic message.
func Internal(cause error) *Error {
	e := newError(CodeInternal, http.StatusInternalServerError, "internal server error")
	e.Cause = cause
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// From classifies err, treating anything unclassified as Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Internal(err)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Package apierr defines the error taxonomy shared by every API operation.
// Handlers inspect the kind to choose an HTTP status; anything that is not an
// *Error is treated as an internal failure.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an operation failure.
type Kind int

const (
	// Internal is any unexpected failure. The catch-all.
	Internal Kind = iota
	// Validation covers missing or malformed request fields.
	Validation
	// NotFound means the referenced record does not exist.
	NotFound
	// Unavailable means the record store cannot be reached.
	Unavailable
)

// Error carries a kind plus a client-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a Validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Msg: fmt.Sprintf(format, args...)}
}

// Unavailablef builds an Unavailable error.
func Unavailablef(format string, args ...any) *Error {
	return &Error{Kind: Unavailable, Msg: fmt.Sprintf(format, args...)}
}

// Internalf wraps an underlying failure with a client-safe message.
func Internalf(err error, format string, args ...any) *Error {
	return &Error{Kind: Internal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Internal
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-safe message for err. Wrapped causes of internal
// errors stay out of responses.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Msg
	}
	return err.Error()
}

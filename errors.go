package oauthclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrorCodeConfiguration        = "configuration_error"
	ErrorCodeInvalidArgument      = "invalid_argument"
	ErrorCodeNoTokenHeld          = "no_token_held"
	ErrorCodeUpstreamError        = "upstream_error"
	ErrorCodeAuthenticationFailed = "authentication_failed"
)

// Error is the error type returned by this library.
type Error struct {
	Code        string // Stable error code (e.g., "no_token_held")
	Description string // Human-readable error description
	Status      int    // HTTP status code suggested to the middleware layer

	// UpstreamStatus and UpstreamBody carry the authorization server's
	// original response when Code is ErrorCodeUpstreamError. They are
	// preserved unchanged so callers can inspect what the server said.
	UpstreamStatus int
	UpstreamBody   []byte
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Code == ErrorCodeUpstreamError && e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s: authorization server returned %d: %s", e.Code, e.UpstreamStatus, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new error with the given code, description and status
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

var (
	// ErrConfiguration indicates a missing or invalid configuration option.
	// It is fatal at construction time.
	ErrConfiguration = func(desc string) *Error {
		return NewError(ErrorCodeConfiguration, desc, http.StatusInternalServerError)
	}

	// ErrInvalidArgument indicates a caller bug such as an empty code or
	// token passed to an operation. No network call is made.
	ErrInvalidArgument = func(desc string) *Error {
		return NewError(ErrorCodeInvalidArgument, desc, http.StatusBadRequest)
	}

	// ErrNoTokenHeld indicates an operation that requires a held token was
	// called in the Unauthenticated state.
	ErrNoTokenHeld = func(desc string) *Error {
		return NewError(ErrorCodeNoTokenHeld, desc, http.StatusUnauthorized)
	}

	// ErrAuthenticationFailed indicates introspection determined the token
	// is invalid. The held token has been cleared as a side effect.
	ErrAuthenticationFailed = func(desc string) *Error {
		return NewError(ErrorCodeAuthenticationFailed, desc, http.StatusUnauthorized)
	}
)

// ErrUpstream wraps a non-2xx response from the authorization server. The
// original status code and body are preserved and never retried.
func ErrUpstream(status int, body []byte) *Error {
	return &Error{
		Code:           ErrorCodeUpstreamError,
		Description:    string(body),
		Status:         http.StatusBadGateway,
		UpstreamStatus: status,
		UpstreamBody:   body,
	}
}

// CodeOf returns the error code of err, or "" if err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

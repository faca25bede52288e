package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/getmockd/gqlproxy/pkg/upstream"
)

// Sentinel errors.
var (
	// ErrNotFound is returned for a hash that is not registered.
	ErrNotFound = errors.New("operation not found")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("proxy closed")
	// ErrInvalidOrigin is returned by New for a malformed origin URL.
	ErrInvalidOrigin = errors.New("invalid origin URL")
)

// ValidationError is returned when an operation's validator rejects the
// call's variables.
type ValidationError struct {
	Hash    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Hash == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Hash, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError is a convenience for validators.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func asValidationError(hash string, err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		out := *ve
		if out.Hash == "" {
			out.Hash = hash
		}
		return &out
	}
	return &ValidationError{Hash: hash, Message: err.Error(), Err: err}
}

// StatusCode classifies err as the HTTP status a front end should answer
// with.
func StatusCode(err error) int {
	var (
		validationErr *ValidationError
		statusErr     *upstream.StatusError
		urlErr        *url.Error
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrClosed), errors.Is(err, upstream.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &statusErr), errors.As(err, &urlErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

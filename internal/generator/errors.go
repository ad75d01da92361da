package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error codes.
const (
	CodeRateLimited     = "rate_limited"
	CodeOverloaded      = "overloaded"
	CodeTimeout         = "timeout"
	CodeRejected        = "rejected"
	CodeInvalidResponse = "invalid_response"
	CodeUnavailable     = "unavailable"
)

// Error is a generator failure. Transient errors are worth retrying.
type Error struct {
	Provider  string
	Code      string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generator %s: %s (status %d): %v", e.Provider, e.Code, e.Status, e.Err)
	}
	return fmt.Sprintf("generator %s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable generator failure.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Transient
}

// IsGeneratorError reports whether err is or wraps an Error.
func IsGeneratorError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}

// classifyStatus maps an HTTP status from a provider.
func classifyStatus(provider string, status int, err error) *Error {
	e := &Error{Provider: provider, Status: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		e.Code, e.Transient = CodeRateLimited, true
	case status == 529 || status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		e.Code, e.Transient = CodeOverloaded, true
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		e.Code, e.Transient = CodeTimeout, true
	case status >= 500:
		e.Code, e.Transient = CodeUnavailable, true
	default:
		e.Code = CodeRejected
	}
	return e
}

// classifyTransport handles failures without an HTTP status.
func classifyTransport(provider string, err error) *Error {
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Provider: provider, Code: CodeUnavailable, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return &Error{Provider: provider, Code: CodeTimeout, Transient: true, Err: err}
	}
	return &Error{Provider: provider, Code: CodeUnavailable, Transient: true, Err: err}
}

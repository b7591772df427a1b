package backend

import (
	"errors"
	"fmt"
	"net/http"

	"txflow/pkg/resilience"
)

var (
	// ErrUnauthorized is returned on a 401 after the UnauthorizedHandler ran.
	ErrUnauthorized = errors.New("backend: unauthorized")

	// ErrMalformedResponse is wrapped in a NetworkError when a 2xx response
	// cannot be decoded. The outcome of the call is unknown.
	ErrMalformedResponse = errors.New("backend: malformed response")

	// errEmptyData is returned when a successful envelope carries no data.
	errEmptyData = errors.New("backend: response has no data")
)

// APIError is a response from a reachable backend that did not succeed:
// a non-2xx status or an envelope with success=false.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Fields     FieldErrors
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("backend: %s: %d %s", e.Op, e.StatusCode, msg)
}

// Temporary reports whether the server failed rather than refused.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// NetworkError is a failure to get a usable response from the backend,
// including a rejection by the open circuit breaker and an undecodable
// 2xx body.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func malformed(op, what string, err error) error {
	return &NetworkError{Op: op, Err: fmt.Errorf("%w: %s: %v", ErrMalformedResponse, what, err)}
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsNotFound reports whether the backend answered 404.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// healthy classifies errors for the circuit breaker: a backend that answers,
// even with a rejection, is healthy.
func healthy(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return true
	}
	if apiErr, ok := AsAPIError(err); ok {
		return !apiErr.Temporary()
	}
	return false
}

// retryable reports whether a read may be retried.
func retryable(err error) bool {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Temporary()
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return !errors.Is(netErr.Err, resilience.ErrCircuitOpen)
	}
	return false
}

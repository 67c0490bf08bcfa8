package upstream

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is wrapped by TransportError when the breaker rejects a call
// without contacting the provider.
var ErrCircuitOpen = errors.New("upstream circuit open")

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network, timeout and body read failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCircuitOpen represents calls rejected by the breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"

	// ErrorClassCanceled represents calls abandoned by the caller's context.
	ErrorClassCanceled ErrorClass = "canceled"
)

// UpstreamError is a non-2xx response. Body and StatusCode are kept verbatim
// so the route layer can pass them through to the caller.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Endpoint, e.StatusCode)
}

// Class returns the error class for the status code.
func (e *UpstreamError) Class() ErrorClass {
	if e.StatusCode >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}

// TransportError is a failure to obtain any response from the provider.
type TransportError struct {
	Endpoint string
	Err      error

	// Canceled is set when the caller's context ended before a response
	// arrived. The provider is not at fault.
	Canceled bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s transport error: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Class returns the error class.
func (e *TransportError) Class() ErrorClass {
	switch {
	case errors.Is(e.Err, ErrCircuitOpen):
		return ErrorClassCircuitOpen
	case e.Canceled:
		return ErrorClassCanceled
	default:
		return ErrorClassNetwork
	}
}

// countsAsFailure reports whether err should move the breaker toward open.
// Client errors and caller cancellations are not the provider's fault.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.StatusCode >= 500
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return !tErr.Canceled
	}
	return true
}

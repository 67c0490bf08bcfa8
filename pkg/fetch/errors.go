package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/ratelimit"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/upstream"
)

// ErrorKind tags the failure class of a GetOrFetch call.
type ErrorKind string

const (
	// KindUpstream is a non-2xx provider response, passed through verbatim.
	KindUpstream ErrorKind = "upstream"

	// KindTransport is a failure to get a usable provider response.
	KindTransport ErrorKind = "transport"

	// KindStorage is a Fast Cache, Durable Store or rate limit backend failure.
	KindStorage ErrorKind = "storage"

	// KindTimeout is an admission deadline or context expiry.
	KindTimeout ErrorKind = "timeout"
)

// Error is the failure result of GetOrFetch. It is translated into an HTTP
// response only at the service boundary.
type Error struct {
	Kind ErrorKind

	// StatusCode and Body are the provider's, for KindUpstream.
	StatusCode int
	Body       []byte

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == KindUpstream {
		return fmt.Sprintf("fetch %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s error: %v", e.Kind, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the caller should see.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUpstream:
		return e.StatusCode
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func storageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Err: fmt.Errorf("%s: %w", op, err)}
}

// fromUpstream maps an upstream client error onto the result taxonomy.
func fromUpstream(err error) *Error {
	var upErr *upstream.UpstreamError
	if errors.As(err, &upErr) {
		return &Error{Kind: KindUpstream, StatusCode: upErr.StatusCode, Body: upErr.Body, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// fromAdmission maps a limiter error onto the result taxonomy.
func fromAdmission(err error) *Error {
	if errors.Is(err, ratelimit.ErrAdmissionTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return storageError("rate limit acquire", err)
}

// Package llm provides the provider-agnostic representations of generation
// requests and results that the rest of quill builds on.
package llm

import (
	"errors"
	"fmt"
)

// ErrorResponse is the JSON error body returned by quill's HTTP handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ErrUnknownProvider is returned when a GenerationConfig names a provider
// that has no registered adapter.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrInvalidRequest is returned for requests rejected before any network call.
var ErrInvalidRequest = errors.New("invalid generation request")

// TransportError reports a failure to obtain a usable response from the
// upstream: network errors, and non-2xx responses whose body is not a
// recognizable provider error.
type TransportError struct {
	URL        string
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body, if any
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("transport failure: %s returned %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport failure: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("transport failure: %s: %v", e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// CancelledError is returned when the caller's context ends a generation
// before it completes. Any partially accumulated text is discarded.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return "generation cancelled: " + e.Err.Error()
}

func (e *CancelledError) Unwrap() error { return e.Err }

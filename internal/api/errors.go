package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for status classification. Callers use errors.Is to
// branch on the class without parsing messages.
var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrServer       = errors.New("api: server error")
	ErrThrottled    = errors.New("api: throttled")
)

// maxErrBodyLen caps how much of an error response body is retained in the
// error message. Server error pages can be large; the first fragment is
// enough for the operator log.
const maxErrBodyLen = 512

// StatusError is a non-2xx response from the coordination server.
type StatusError struct {
	StatusCode int
	Body       string // first fragment of the response body
	Err        error  // classification sentinel
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: server returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= http.StatusInternalServerError:
		return ErrServer
	default:
		return fmt.Errorf("api: unexpected status %d", code)
	}
}

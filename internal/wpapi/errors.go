package wpapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for status-code classification. Check with
// errors.Is(err, wpapi.ErrNotFound) etc.
var (
	ErrBadRequest   = errors.New("wpapi: bad request")
	ErrUnauthorized = errors.New("wpapi: unauthorized")
	ErrForbidden    = errors.New("wpapi: forbidden")
	ErrNotFound     = errors.New("wpapi: not found")
	ErrConflict     = errors.New("wpapi: conflict")
	ErrServerError  = errors.New("wpapi: server error")
)

// APIError wraps a non-2xx response: the status code, the decoded
// JSON payload's "message" field, and a classifying sentinel so
// callers can errors.Is against it.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wpapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether StatusCode is in the adaptive-chunk-halving
// retry set: {408, 413, 500, 502, 503, 504}.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusRequestEntityTooLarge,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

func newAPIError(statusCode int, message string) *APIError {
	return &APIError{StatusCode: statusCode, Message: message, Err: classifyStatus(statusCode)}
}

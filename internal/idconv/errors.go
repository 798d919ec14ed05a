package idconv

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the ID converter client.
var (
	// ErrRateLimited indicates the service rejected the request for exceeding its rate limit.
	ErrRateLimited = errors.New("idconv rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with idconv")

	// ErrTimeout indicates the request did not complete within the client timeout.
	ErrTimeout = errors.New("idconv request timed out")

	// ErrInvalidResponse indicates an unexpected or malformed response body.
	ErrInvalidResponse = errors.New("invalid response from idconv")

	// ErrBatchTooLarge indicates more ids were passed than a single request accepts.
	ErrBatchTooLarge = errors.New("too many ids for one idconv request")
)

// APIError represents an HTTP-level or service-level error from idconv.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("idconv API error (status %d): %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRetryable returns true for failures that may succeed on a later attempt:
// network errors, timeouts, rate limiting, malformed bodies and 5xx replies.
// Caller cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkError) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrInvalidResponse) || IsRateLimited(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout
	}
	return false
}

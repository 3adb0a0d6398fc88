// Package resilience provides reusable guards around fallible asynchronous
// operations: retry with timeout, circuit breaking, and rate limiting.
//
// Breaker and limiter state is process-wide and keyed by provider or tool
// name; both registries are safe for concurrent use from any number of flow
// runs. The guards are independent of the engine and usable around any
// operation shaped func(ctx) (T, error).
package resilience

import (
	"fmt"
	"time"
)

// Stable resilience error codes.
const (
	CodeTimeout        = "resilience/timeout"
	CodeRetryExhausted = "resilience/retry_exhausted"
	CodeCircuitOpen    = "resilience/circuit_open"
	CodeRateLimited    = "resilience/rate_limited"
)

// TimeoutError indicates a single attempt exceeded the policy timeout.
type TimeoutError struct {
	// Key is the breaker/limiter key of the guarded operation.
	Key string

	// Timeout is the per-attempt budget that elapsed.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", CodeTimeout, e.Key, e.Timeout)
}

// RetryExhaustedError indicates every attempt failed.
type RetryExhaustedError struct {
	// Key is the breaker/limiter key of the guarded operation.
	Key string

	// Attempts is the total attempt count (maxRetries + 1).
	Attempts int

	// Last is the error from the final attempt.
	Last error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s failed after %d attempts: %v", CodeRetryExhausted, e.Key, e.Attempts, e.Last)
}

// Unwrap returns the final attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// CircuitOpenError indicates the breaker rejected a call without invoking
// the operation.
type CircuitOpenError struct {
	// Key is the open circuit's key.
	Key string

	// RetryAt is when the breaker next allows a trial call.
	RetryAt time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit for %s is open until %s", CodeCircuitOpen, e.Key, e.RetryAt.Format(time.RFC3339))
}

// RateLimitError indicates the token bucket for a key is exhausted. Calls
// are rejected synchronously, never queued.
type RateLimitError struct {
	// Key identifies the exhausted bucket.
	Key string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded for %s", CodeRateLimited, e.Key)
}

// HTTPError carries an HTTP status for retry policy decisions. Tool
// executions surface transport-level failures through this type so the
// retryOnStatus allow-list can match.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

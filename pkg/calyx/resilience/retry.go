package resilience

import (
	"context"
	"errors"
	"time"
)

// Policy configures the retry-with-timeout wrapper.
type Policy struct {
	// Timeout bounds each individual attempt. Zero means no per-attempt
	// deadline beyond the caller's context.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt, so the
	// total attempt budget is MaxRetries+1.
	MaxRetries int

	// BackoffBase is multiplied by the attempt number to produce the delay
	// before each retry. Zero means no delay.
	BackoffBase time.Duration

	// RetryOnStatus restricts retries of HTTP failures to the listed status
	// codes. Empty retries any recognized failure.
	RetryOnStatus []int

	// Idempotent marks the operation safe to retry. Non-idempotent
	// operations are not retried unless RetryNonIdempotent opts in.
	Idempotent bool

	// RetryNonIdempotent overrides the idempotency safety rule.
	RetryNonIdempotent bool
}

// DefaultPolicy is the standard guard configuration.
var DefaultPolicy = Policy{
	Timeout:     30 * time.Second,
	MaxRetries:  2,
	BackoffBase: 250 * time.Millisecond,
	Idempotent:  true,
}

// retryable decides whether an attempt's failure is worth retrying under
// the policy.
func (p Policy) retryable(err error) bool {
	if !p.Idempotent && !p.RetryNonIdempotent {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && len(p.RetryOnStatus) > 0 {
		for _, code := range p.RetryOnStatus {
			if httpErr.StatusCode == code {
				return true
			}
		}
		return false
	}
	return true
}

// Call wraps one fallible operation with the full guard stack: breaker
// check, per-attempt timeout, failure recording, linear backoff, and a
// bounded retry budget.
//
// Behavior per attempt: if the breaker for key refuses the call, a
// CircuitOpenError is returned without invoking the operation. Otherwise the
// operation runs under the policy timeout; success records a breaker success
// and returns. A timeout surfaces as a distinct TimeoutError but feeds the
// breaker exactly like any other failure. When the attempt budget
// (MaxRetries+1) is exhausted, a RetryExhaustedError reporting the total
// attempt count wraps the final failure.
//
// Breaker may be nil when no circuit protection is wanted.
func Call[T any](ctx context.Context, key string, p Policy, breaker *BreakerRegistry, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if breaker != nil {
			if err := breaker.Allow(key); err != nil {
				return zero, err
			}
		}

		result, err := runAttempt(ctx, key, p.Timeout, op)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess(key)
			}
			return result, nil
		}
		if breaker != nil {
			breaker.RecordFailure(key)
		}
		lastErr = err

		if !p.retryable(err) || attempt == attempts {
			break
		}
		if p.BackoffBase > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.BackoffBase * time.Duration(attempt)):
			}
		}
	}

	if !p.retryable(lastErr) {
		return zero, lastErr
	}
	return zero, &RetryExhaustedError{Key: key, Attempts: attempts, Last: lastErr}
}

// runAttempt executes one attempt under the per-attempt timeout. The
// timeout cancels only this operation; the enclosing flow run observes a
// TimeoutError like any other step failure.
func runAttempt[T any](ctx context.Context, key string, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return zero, &TimeoutError{Key: key, Timeout: timeout}
	}
	return result, err
}

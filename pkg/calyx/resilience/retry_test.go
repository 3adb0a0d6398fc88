package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/resilience"
)

func TestCall_Success(t *testing.T) {
	calls := 0
	result, err := resilience.Call(context.Background(), "svc", resilience.Policy{Idempotent: true}, nil,
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestCall_RetryBudget(t *testing.T) {
	t.Run("exhaustion reports the total attempt count", func(t *testing.T) {
		boom := errors.New("boom")
		for _, retries := range []int{0, 1, 3} {
			calls := 0
			_, err := resilience.Call(context.Background(), "svc",
				resilience.Policy{MaxRetries: retries, Idempotent: true}, nil,
				func(ctx context.Context) (int, error) {
					calls++
					return 0, boom
				})
			var rerr *resilience.RetryExhaustedError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, retries+1, rerr.Attempts)
			assert.Equal(t, retries+1, calls)
			assert.ErrorIs(t, err, boom)
		}
	})

	t.Run("success on a later attempt stops retrying", func(t *testing.T) {
		calls := 0
		result, err := resilience.Call(context.Background(), "svc",
			resilience.Policy{MaxRetries: 5, Idempotent: true}, nil,
			func(ctx context.Context) (string, error) {
				calls++
				if calls < 3 {
					return "", errors.New("transient")
				}
				return "ok", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-idempotent operations are not retried", func(t *testing.T) {
		calls := 0
		_, err := resilience.Call(context.Background(), "svc",
			resilience.Policy{MaxRetries: 3}, nil,
			func(ctx context.Context) (int, error) {
				calls++
				return 0, errors.New("boom")
			})
		require.Error(t, err)
		var rerr *resilience.RetryExhaustedError
		assert.False(t, errors.As(err, &rerr))
		assert.Equal(t, 1, calls)
	})

	t.Run("retry-on-status filters http failures", func(t *testing.T) {
		calls := 0
		_, err := resilience.Call(context.Background(), "svc",
			resilience.Policy{MaxRetries: 3, Idempotent: true, RetryOnStatus: []int{503}}, nil,
			func(ctx context.Context) (int, error) {
				calls++
				return 0, &resilience.HTTPError{StatusCode: 404, Endpoint: "/x"}
			})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestCall_Timeout(t *testing.T) {
	_, err := resilience.Call(context.Background(), "slow",
		resilience.Policy{Timeout: 10 * time.Millisecond}, nil,
		func(ctx context.Context) (int, error) {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Second):
				return 1, nil
			}
		})
	var terr *resilience.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "slow", terr.Key)
	assert.Equal(t, 10*time.Millisecond, terr.Timeout)
}

func TestCall_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := resilience.Call(ctx, "svc", resilience.Policy{Idempotent: true}, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestCall_BreakerIntegration(t *testing.T) {
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})

	calls := 0
	fail := func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	}

	// Two failing calls reach the threshold.
	for i := 0; i < 2; i++ {
		_, err := resilience.Call(context.Background(), "svc", resilience.Policy{Idempotent: true}, breakers, fail)
		require.Error(t, err)
	}
	open, _ := breakers.State("svc")
	require.True(t, open)
	callsBefore := calls

	// The open circuit rejects without invoking the operation.
	_, err := resilience.Call(context.Background(), "svc", resilience.Policy{Idempotent: true}, breakers, fail)
	var cerr *resilience.CircuitOpenError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "svc", cerr.Key)
	assert.Equal(t, callsBefore, calls)
}

func TestLimiterRegistry_Allow(t *testing.T) {
	t.Run("burst rejects past capacity", func(t *testing.T) {
		limiters := resilience.NewLimiterRegistry()
		cfg := resilience.LimitConfig{CallsPerMinute: 1, Burst: 2}

		require.NoError(t, limiters.Allow("api", cfg))
		require.NoError(t, limiters.Allow("api", cfg))
		err := limiters.Allow("api", cfg)
		var rerr *resilience.RateLimitError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "api", rerr.Key)
	})

	t.Run("keys are independent buckets", func(t *testing.T) {
		limiters := resilience.NewLimiterRegistry()
		cfg := resilience.LimitConfig{CallsPerMinute: 1, Burst: 1}
		require.NoError(t, limiters.Allow("a", cfg))
		require.NoError(t, limiters.Allow("b", cfg))
	})

	t.Run("zero rate disables limiting", func(t *testing.T) {
		limiters := resilience.NewLimiterRegistry()
		for i := 0; i < 10; i++ {
			require.NoError(t, limiters.Allow("api", resilience.LimitConfig{}))
		}
	})
}

package resilience

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines a token bucket: capacity Burst, refilled at
// CallsPerMinute tokens per minute.
type LimitConfig struct {
	CallsPerMinute int
	Burst          int
}

// LimiterRegistry tracks one token bucket per key. It is process-wide and
// safe for concurrent use; calls beyond capacity are rejected synchronously
// rather than queued.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiterRegistry creates an empty registry.
func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for key, creating the bucket from config on
// first use. A drained bucket yields a RateLimitError immediately.
func (r *LimiterRegistry) Allow(key string, config LimitConfig) error {
	if config.CallsPerMinute <= 0 {
		return nil
	}

	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(float64(config.CallsPerMinute)/60.0), burst)
		r.limiters[key] = lim
	}
	r.mu.Unlock()

	if !lim.Allow() {
		return &RateLimitError{Key: key}
	}
	return nil
}

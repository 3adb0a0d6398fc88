package resilience

import (
	"sync"
	"time"
)

// BreakerConfig configures circuit behavior for every key in a registry.
type BreakerConfig struct {
	// FailureThreshold is the rolling failure count that opens the circuit.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects calls before
	// allowing one half-open trial.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig is a reasonable production default.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
}

// circuitState is the per-key breaker state machine.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

type circuit struct {
	state    circuitState
	failures int
	openedAt time.Time
}

// BreakerRegistry tracks one circuit per key. It is process-wide, shared
// across all flow runs using the same key, and safe for concurrent use.
type BreakerRegistry struct {
	mu       sync.Mutex
	config   BreakerConfig
	circuits map[string]*circuit

	// now is swappable so tests can step through the cooldown.
	now func() time.Time
}

// NewBreakerRegistry creates a registry with the given configuration.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	return &BreakerRegistry{
		config:   config,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// Allow reports whether a call for key may proceed. While open, calls are
// rejected immediately with a CircuitOpenError; once the cooldown elapses a
// single trial call is let through half-open.
func (r *BreakerRegistry) Allow(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(key)
	switch c.state {
	case stateClosed:
		return nil
	case stateHalfOpen:
		// A trial is already in flight; reject until it resolves.
		return &CircuitOpenError{Key: key, RetryAt: c.openedAt.Add(r.config.ResetTimeout)}
	default:
		retryAt := c.openedAt.Add(r.config.ResetTimeout)
		if r.now().Before(retryAt) {
			return &CircuitOpenError{Key: key, RetryAt: retryAt}
		}
		c.state = stateHalfOpen
		return nil
	}
}

// RecordSuccess notes a successful call. A half-open trial success closes
// the circuit and clears the failure count.
func (r *BreakerRegistry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(key)
	c.state = stateClosed
	c.failures = 0
}

// RecordFailure notes a failed call. Reaching the threshold, or failing the
// half-open trial, opens the circuit and restarts the cooldown.
func (r *BreakerRegistry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(key)
	c.failures++
	if c.state == stateHalfOpen || c.failures >= r.config.FailureThreshold {
		c.state = stateOpen
		c.openedAt = r.now()
	}
}

// State reports whether the circuit for key currently rejects calls.
func (r *BreakerRegistry) State(key string) (open bool, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(key)
	return c.state == stateOpen, c.failures
}

func (r *BreakerRegistry) circuit(key string) *circuit {
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{}
		r.circuits[key] = c
	}
	return c
}

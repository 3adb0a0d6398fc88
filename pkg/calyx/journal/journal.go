// Package journal persists per-step run records for inspection and replay.
//
// The engine appends one entry per completed step (alias, status, duration,
// serialized output). Journaling is best-effort from the engine's point of
// view: append failures are logged by the caller, never fatal to the run.
package journal

import (
	"errors"
	"time"
)

// Status is the recorded outcome of one step.
type Status string

// Step statuses.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusHandled   Status = "handled"
)

// Entry is one journaled step execution.
type Entry struct {
	// RunID identifies the flow run.
	RunID string

	// Seq is the 1-based position of the entry within the run.
	Seq int

	// Flow is the executed flow's name.
	Flow string

	// Step is the step alias, or its positional label when unaliased.
	Step string

	// Kind is the step kind.
	Kind string

	// Status records the outcome.
	Status Status

	// Output is the JSON-serialized step output, nil on failure.
	Output []byte

	// Error is the failure description for failed steps.
	Error string

	// StartedAt is when the step began.
	StartedAt time.Time

	// Duration is the step's wall-clock execution time.
	Duration time.Duration
}

// Store persists journal entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds an entry. Seq is assigned by the caller and must be
	// unique within the run.
	Append(entry Entry) error

	// List returns a run's entries ordered by sequence.
	// Returns an empty slice (not an error) for an unknown run.
	List(runID string) ([]Entry, error)

	// DeleteRun removes all entries for a run.
	DeleteRun(runID string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for journal operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("journal store closed")
)

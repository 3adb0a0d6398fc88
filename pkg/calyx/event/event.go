// Package event defines the ordered run events delivered to streaming
// callers.
//
// Events are emitted synchronously in the order they occur within a run.
// Each streaming AI step produces zero or more ai_chunk events followed by
// exactly one terminal event: ai_done on success or flow_error on failure;
// the emitter enforces the terminal-once guarantee.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type.
type Kind string

// Event kinds.
const (
	KindStepStarted   Kind = "step_started"
	KindStepCompleted Kind = "step_completed"
	KindAIChunk       Kind = "ai_chunk"
	KindAIDone        Kind = "ai_done"
	KindFlowError     Kind = "flow_error"
	KindFlowCompleted Kind = "flow_completed"
)

// Event is one occurrence within a flow run.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Kind is the event type.
	Kind Kind `json:"kind"`

	// RunID identifies the emitting run.
	RunID string `json:"run_id"`

	// Step is the alias or positional label of the emitting step.
	Step string `json:"step,omitempty"`

	// Data is the event payload: the chunk text for ai_chunk, the full
	// answer for ai_done, the step output for step_completed.
	Data any `json:"data,omitempty"`

	// Error carries the failure description for flow_error events.
	Error string `json:"error,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Callback receives events in emission order. Callbacks run on the emitting
// goroutine; a slow callback slows the run, never reorders it.
type Callback func(Event)

// Emitter serializes event delivery for one run and tracks per-step
// terminal state.
type Emitter struct {
	mu       sync.Mutex
	runID    string
	callback Callback
	terminal map[string]bool
}

// NewEmitter creates an emitter for a run. A nil callback yields a no-op
// emitter, so callers never branch on streaming being enabled.
func NewEmitter(runID string, cb Callback) *Emitter {
	return &Emitter{
		runID:    runID,
		callback: cb,
		terminal: make(map[string]bool),
	}
}

// Emit delivers a non-terminal event.
func (e *Emitter) Emit(kind Kind, step string, data any) {
	e.deliver(Event{Kind: kind, Step: step, Data: data})
}

// EmitTerminal delivers a step's terminal event (ai_done or flow_error).
// Subsequent terminal events for the same step are dropped, preserving the
// exactly-one-terminal contract even on racing failure paths.
func (e *Emitter) EmitTerminal(kind Kind, step string, data any, errMsg string) {
	e.mu.Lock()
	if e.terminal[step] {
		e.mu.Unlock()
		return
	}
	e.terminal[step] = true
	e.mu.Unlock()

	e.deliver(Event{Kind: kind, Step: step, Data: data, Error: errMsg})
}

func (e *Emitter) deliver(evt Event) {
	if e == nil || e.callback == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.RunID = e.runID
	evt.Timestamp = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback(evt)
}

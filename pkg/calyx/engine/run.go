package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/calyxlang/calyx/pkg/calyx/event"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/journal"
	"github.com/calyxlang/calyx/pkg/calyx/llm"
	"github.com/calyxlang/calyx/pkg/calyx/observability"
	"github.com/calyxlang/calyx/pkg/calyx/state"
	"github.com/calyxlang/calyx/pkg/calyx/store"
)

// Result is the outcome of one flow run.
type Result struct {
	// RunID identifies the run.
	RunID string

	// State is the final flattened variable environment.
	State map[string]any

	// Steps is the number of step executions, including loop iterations.
	Steps int

	// Errors accumulates every step-level failure observed during the run,
	// including failures later handled by an `on error` sequence.
	Errors []error

	// Result is the value of an explicit `return`, nil otherwise.
	Result any
}

// runCtx is the mutable context of one flow run. It is owned by a single
// goroutine for the duration of the run.
type runCtx struct {
	runID   string
	flow    *ir.Flow
	st      *state.FlowState
	emitter *event.Emitter

	// writer routes db steps through the store directly or, inside a
	// transaction block, through its undo-logged Tx.
	writer store.Writer
	inTx   bool

	// messages is the accumulated conversation history across ai steps.
	messages []llm.Message

	errors   []error
	result   any
	returned bool
	steps    int
	seq      int
}

// Run executes a flow synchronously.
//
// The returned Result always reflects the state at completion or at the
// point of failure. The error is non-nil only for unhandled failures: a
// failure absorbed by a transaction's `on error` handler or the flow-level
// handler leaves the run successful, though still visible in Result.Errors.
func (e *Engine) Run(ctx context.Context, flow *ir.Flow, initial map[string]any) (*Result, error) {
	return e.RunStream(ctx, flow, initial, nil)
}

// RunStream executes a flow, delivering ordered events to cb as they occur.
//
// Chunk events from a streaming ai step arrive in provider order, followed
// by exactly one terminal ai_done or flow_error event for that step. A nil
// callback behaves exactly like Run.
func (e *Engine) RunStream(ctx context.Context, flow *ir.Flow, initial map[string]any, cb event.Callback) (result *Result, runErr error) {
	if err := ValidateFlow(flow); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	rc := &runCtx{
		runID:   runID,
		flow:    flow,
		st:      state.New(initial),
		emitter: event.NewEmitter(runID, cb),
		writer:  e.store,
	}
	declareAliases(rc.st, flow.Steps)

	start := time.Now()
	observability.LogRunStart(e.logger, flow.Name, runID)

	execCtx := ctx
	var runSpan trace.Span
	if e.spans != nil {
		execCtx, runSpan = e.spans.StartRunSpan(ctx, flow.Name, runID)
		defer func() {
			e.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	runErr = e.runSteps(execCtx, rc, flow.Steps)

	// An unhandled failure gives the flow-level handler a chance to absorb
	// it; handler success reports the run as successful.
	if runErr != nil && !errors.Is(runErr, context.Canceled) && len(flow.OnError) > 0 {
		rc.st.Define("error", runErr.Error())
		if handlerErr := e.runSteps(execCtx, rc, flow.OnError); handlerErr == nil {
			runErr = nil
		}
	}

	duration := time.Since(start)
	e.metrics.RecordFlowRun(ctx, flow.Name, runErr == nil, duration)

	if runErr != nil {
		lastStep := ""
		var stepErr *StepError
		if errors.As(runErr, &stepErr) {
			lastStep = stepErr.Step
		}
		observability.LogRunError(e.logger, runID, runErr, float64(duration.Milliseconds()), lastStep)
		rc.emitter.EmitTerminal(event.KindFlowError, lastStep, nil, runErr.Error())
	} else {
		observability.LogRunComplete(e.logger, runID, float64(duration.Milliseconds()), rc.steps)
		rc.emitter.Emit(event.KindFlowCompleted, "", rc.result)
	}

	return &Result{
		RunID:  runID,
		State:  rc.st.Snapshot(),
		Steps:  rc.steps,
		Errors: rc.errors,
		Result: rc.result,
	}, runErr
}

// Journal returns a run's journal entries, if a journal store is configured.
func (e *Engine) Journal(runID string) ([]journal.Entry, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.List(runID)
}

// runSteps executes a step sequence in order, halting on the first failure
// or on an explicit `return`.
func (e *Engine) runSteps(ctx context.Context, rc *runCtx, steps []ir.Step) error {
	for i := range steps {
		if rc.returned {
			return nil
		}
		if err := e.runStep(ctx, rc, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes one step with events, journaling, metrics, and logging
// around the kind handler.
func (e *Engine) runStep(ctx context.Context, rc *runCtx, s *ir.Step) error {
	rc.seq++
	rc.steps++
	label := s.Alias
	if label == "" {
		label = fmt.Sprintf("step_%d", rc.seq)
	}

	if err := ctx.Err(); err != nil {
		return &StepError{Code: CodeCancelled, Step: label, Kind: s.Kind, Err: err}
	}
	if rc.steps > e.runtime.MaxStepsPerRun {
		return &StepError{
			Code: CodeMaxStepsExceeded,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("run exceeded %d step executions", e.runtime.MaxStepsPerRun),
		}
	}

	handler, ok := e.handlers[s.Kind]
	if !ok {
		// Validation catches this before the first step; kept as a guard
		// for handler tables trimmed by embedders.
		return &StepError{
			Code: CodeUnknownStepKind,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("no handler for step kind %q", s.Kind),
		}
	}

	observability.LogStepStart(e.logger, label, string(s.Kind))
	rc.emitter.Emit(event.KindStepStarted, label, nil)

	stepCtx := ctx
	var span trace.Span
	if e.spans != nil {
		stepCtx, span = e.spans.StartStepSpan(ctx, label, string(s.Kind))
	}

	start := time.Now()
	output, err := handler(stepCtx, rc, label, s)
	elapsed := time.Since(start)

	e.metrics.RecordStepExecution(stepCtx, label, string(s.Kind), elapsed, err)
	if e.spans != nil {
		e.spans.EndSpanWithError(span, err)
	}

	if err != nil {
		if errors.Is(err, errReturn) {
			// `return` halts the current flow without being a failure.
			e.appendJournal(rc, label, s.Kind, journal.StatusCompleted, output, "", start, elapsed)
			return nil
		}
		stepErr := asStepError(err, label, s.Kind)
		rc.errors = append(rc.errors, stepErr)
		observability.LogStepError(e.logger, label, stepErr)
		e.appendJournal(rc, label, s.Kind, journal.StatusFailed, nil, stepErr.Error(), start, elapsed)
		return stepErr
	}

	if producesOutput(s.Kind) {
		rc.st.SetOutput(s.Alias, output)
	}
	observability.LogStepComplete(e.logger, label, float64(elapsed.Milliseconds()))
	rc.emitter.Emit(event.KindStepCompleted, label, output)
	e.appendJournal(rc, label, s.Kind, journal.StatusCompleted, output, "", start, elapsed)
	return nil
}

// appendJournal persists one journal entry, best-effort.
func (e *Engine) appendJournal(rc *runCtx, label string, kind ir.StepKind, status journal.Status, output any, errMsg string, started time.Time, elapsed time.Duration) {
	if e.journal == nil {
		return
	}
	var data []byte
	if output != nil {
		if encoded, err := json.Marshal(output); err == nil {
			data = encoded
		}
	}
	entry := journal.Entry{
		RunID:     rc.runID,
		Seq:       rc.seq,
		Flow:      rc.flow.Name,
		Step:      label,
		Kind:      string(kind),
		Status:    status,
		Output:    data,
		Error:     errMsg,
		StartedAt: started,
		Duration:  elapsed,
	}
	if err := e.journal.Append(entry); err != nil {
		observability.LogJournalError(e.logger, label, "append", err)
	} else {
		observability.LogJournal(e.logger, label, len(data))
	}
}

// asStepError wraps an error with step context unless it already carries it.
func asStepError(err error, label string, kind ir.StepKind) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}
	return &StepError{Code: CodeOf(err), Step: label, Kind: kind, Err: err}
}

// producesOutput reports whether a step kind binds last_output and its
// alias. Control-flow steps do not: their inner steps bind outputs
// themselves.
func producesOutput(kind ir.StepKind) bool {
	switch kind {
	case ir.KindIf, ir.KindMatch, ir.KindRetry, ir.KindLoop, ir.KindTransaction:
		return false
	default:
		return true
	}
}

// declareAliases registers every alias the flow can bind, including those
// inside control-flow bodies, so referencing one before its step runs is
// distinguishable from a typo.
func declareAliases(st *state.FlowState, steps []ir.Step) {
	for i := range steps {
		s := &steps[i]
		st.DeclareAliases(s.Alias)
		for j := range s.Branches {
			declareAliases(st, s.Branches[j].Steps)
		}
		for j := range s.Cases {
			declareAliases(st, s.Cases[j].Steps)
		}
		declareAliases(st, s.Body)
		declareAliases(st, s.Handler)
	}
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/calyxlang/calyx/pkg/calyx/expr"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/journal"
	"github.com/calyxlang/calyx/pkg/calyx/observability"
	"github.com/calyxlang/calyx/pkg/calyx/state"
)

// execIf evaluates branches top to bottom and runs the first whose
// condition holds. An empty condition is the otherwise arm.
func (e *Engine) execIf(ctx context.Context, rc *runCtx, _ string, s *ir.Step) (any, error) {
	for i := range s.Branches {
		b := &s.Branches[i]
		if b.When != "" {
			ok, err := expr.Eval(b.When, rc.st)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		return nil, e.runSteps(ctx, rc, b.Steps)
	}
	return nil, nil
}

// execMatch compares the subject against each case pattern in order.
//
// The current language version accepts literal equality, the structural
// ok/error envelope markers, and otherwise; comparison patterns are
// rejected by flow validation before execution.
func (e *Engine) execMatch(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	subject, err := expr.Resolve(s.Subject, rc.st)
	if err != nil {
		return nil, err
	}

	for i := range s.Cases {
		c := &s.Cases[i]
		matched := false
		switch c.Kind {
		case ir.PatternLiteral:
			want, err := resolveOperand(c.Value, rc.st)
			if err != nil {
				return nil, err
			}
			matched = expr.Equal(subject, want)
		case ir.PatternOK:
			matched = envelopeOK(subject, true)
		case ir.PatternError:
			matched = envelopeOK(subject, false)
		case ir.PatternOtherwise:
			matched = true
		default:
			return nil, &StepError{
				Code: CodeUnsupportedPattern,
				Step: label,
				Kind: s.Kind,
				Err:  fmt.Errorf("unsupported pattern kind %q", c.Kind),
			}
		}
		if matched {
			return nil, e.runSteps(ctx, rc, c.Steps)
		}
	}
	return nil, nil
}

// envelopeOK reports whether a value is a result envelope with the given
// ok flag.
func envelopeOK(v any, want bool) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	flag, ok := m["ok"].(bool)
	return ok && flag == want
}

// execRetry re-executes the body until it completes without a step error,
// up to the configured attempt count. A body that completes but leaves a
// failed result envelope in last_output counts as a failed attempt, so
// retry blocks compose with tool steps. Exhausting attempts surfaces the
// last error.
func (e *Engine) execRetry(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= s.Retry.Attempts; attempt++ {
		if attempt > 1 && s.Retry.Backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.Retry.Backoff):
			}
		}

		err := e.runSteps(ctx, rc, s.Body)
		if err == nil {
			if env, failed := failedEnvelope(rc.st.Last()); failed {
				lastErr = fmt.Errorf("attempt %d failed: %s", attempt, env)
				continue
			}
			return nil, nil
		}
		if rc.returned {
			return nil, nil
		}
		lastErr = err
	}
	return nil, &StepError{
		Code: CodeStepFailed,
		Step: label,
		Kind: s.Kind,
		Err:  fmt.Errorf("all %d attempts failed: %w", s.Retry.Attempts, lastErr),
	}
}

// failedEnvelope reports whether a step output is an {ok:false} envelope,
// returning its error text.
func failedEnvelope(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	flag, ok := m["ok"].(bool)
	if !ok || flag {
		return "", false
	}
	msg, _ := m["error"].(string)
	return msg, true
}

// execLoop runs the body once per iteration with the loop variable scoped
// to the body only. Record and list elements destructure into multiple
// bound names when the spec asks for it.
func (e *Engine) execLoop(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	loop := s.Loop

	if loop.Source != "" {
		v, err := expr.Resolve(loop.Source, rc.st)
		if err != nil {
			return nil, err
		}
		list, ok := toList(v)
		if !ok {
			return nil, &StepError{
				Code: CodeNonListSource,
				Step: label,
				Kind: s.Kind,
				Err:  fmt.Errorf("loop source %q evaluated to %T, want a list", loop.Source, v),
			}
		}
		for _, el := range list {
			if err := e.runIteration(ctx, rc, s, el); err != nil {
				return nil, err
			}
			if rc.returned {
				return nil, nil
			}
		}
		return nil, nil
	}

	for i := 1; i <= loop.Times; i++ {
		if err := e.runIteration(ctx, rc, s, int64(i)); err != nil {
			return nil, err
		}
		if rc.returned {
			return nil, nil
		}
	}
	return nil, nil
}

// runIteration executes one loop body pass inside its own scope.
func (e *Engine) runIteration(ctx context.Context, rc *runCtx, s *ir.Step, el any) error {
	rc.st.Push(state.ScopeLoop)
	defer rc.st.Pop()

	loop := s.Loop
	if len(loop.Vars) > 0 {
		if err := destructure(rc.st, loop.Vars, el); err != nil {
			return err
		}
	} else if loop.Var != "" {
		rc.st.Define(loop.Var, el)
	}
	return e.runSteps(ctx, rc, s.Body)
}

// destructure binds multiple names from a record (by field name) or a list
// (positionally).
func destructure(st *state.FlowState, names []string, el any) error {
	switch v := el.(type) {
	case map[string]any:
		for _, name := range names {
			st.Define(name, v[name])
		}
		return nil
	case []any:
		for i, name := range names {
			if i < len(v) {
				st.Define(name, v[i])
			} else {
				st.Define(name, nil)
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot destructure %T into %d names", el, len(names))
	}
}

// execTransaction runs the body with every record store write tracked in an
// undo log. Any inner failure replays the log in reverse before the error
// surfaces; a successful `on error` handler then absorbs the failure and
// the run reports success.
func (e *Engine) execTransaction(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	if rc.inTx {
		// Validation rejects nesting statically; guard for hand-built IR.
		return nil, &StepError{
			Code: CodeNestedTransaction,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("transactions cannot nest"),
		}
	}

	tx := e.store.Begin()
	rc.writer = tx
	rc.inTx = true
	rc.st.Push(state.ScopeTransaction)

	start := time.Now()
	err := e.runSteps(ctx, rc, s.Body)

	rc.st.Pop()
	rc.writer = e.store
	rc.inTx = false

	if err == nil {
		tx.Commit()
		return nil, nil
	}

	tx.Rollback()
	observability.LogRollback(e.logger, label, err)

	if len(s.Handler) > 0 {
		rc.st.Push(state.ScopeTransaction)
		rc.st.Define("error", err.Error())
		handlerErr := e.runSteps(ctx, rc, s.Handler)
		rc.st.Pop()
		if handlerErr != nil {
			return nil, handlerErr
		}
		rc.seq++
		e.appendJournal(rc, label, s.Kind, journal.StatusHandled, nil, err.Error(), start, time.Since(start))
		return nil, nil
	}
	return nil, err
}

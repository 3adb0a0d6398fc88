package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/expr"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/state"
	"github.com/calyxlang/calyx/pkg/calyx/store"
)

// stepHandler executes one step kind. The returned value becomes the step's
// output (last_output and, when aliased, alias.output).
type stepHandler func(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error)

// execScript runs the statement list against FlowState. A `return` sets the
// flow result and halts the remaining steps of the current flow.
func (e *Engine) execScript(_ context.Context, rc *runCtx, _ string, s *ir.Step) (any, error) {
	var last any
	for i := range s.Script {
		stmt := &s.Script[i]
		v, err := expr.Resolve(stmt.Expr, rc.st)
		if err != nil {
			return nil, err
		}
		switch stmt.Kind {
		case ir.StmtLet:
			rc.st.Define(stmt.Name, v)
		case ir.StmtSet:
			if err := rc.st.Assign(stmt.Name, v); err != nil {
				return nil, err
			}
		case ir.StmtReturn:
			rc.result = v
			rc.returned = true
			rc.st.SetLast(v)
			return v, errReturn
		default:
			return nil, fmt.Errorf("unknown statement kind %q", stmt.Kind)
		}
		last = v
	}
	return last, nil
}

// execDBCreate writes one row. The created row, with defaults filled, is the
// step output.
func (e *Engine) execDBCreate(_ context.Context, rc *runCtx, _ string, s *ir.Step) (any, error) {
	values, err := resolveParams(s.Params, rc.st)
	if err != nil {
		return nil, err
	}
	return rc.writer.Create(s.Target, values)
}

// execDBUpdate patches every row matching the predicate.
func (e *Engine) execDBUpdate(_ context.Context, rc *runCtx, _ string, s *ir.Step) (any, error) {
	where, err := resolveCondition(s.Where, rc.st)
	if err != nil {
		return nil, err
	}
	patch, err := resolveParams(s.Patch, rc.st)
	if err != nil {
		return nil, err
	}
	rows, err := rc.writer.Update(s.Target, where, patch)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(rows), "rows": rows}, nil
}

// execDBDelete removes every row matching the predicate.
func (e *Engine) execDBDelete(_ context.Context, rc *runCtx, _ string, s *ir.Step) (any, error) {
	where, err := resolveCondition(s.Where, rc.st)
	if err != nil {
		return nil, err
	}
	n, err := rc.writer.Delete(s.Target, where)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": n}, nil
}

// execBulkCreate writes a batch of rows all-or-nothing.
func (e *Engine) execBulkCreate(_ context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	list, err := e.sourceList(rc, label, s)
	if err != nil {
		return nil, err
	}
	rows := make([]store.Row, len(list))
	for i, el := range list {
		row, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bulk create element %d is %T, want a record", i, el)
		}
		rows[i] = row
	}
	return rc.writer.CreateMany(s.Target, rows)
}

// execBulkUpdate patches one row per source element, keyed by primary key.
// The batch is implicitly transactional: a violation on any element reverts
// every element.
func (e *Engine) execBulkUpdate(_ context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	list, err := e.sourceList(rc, label, s)
	if err != nil {
		return nil, err
	}
	record, err := e.store.Record(s.Target)
	if err != nil {
		return nil, err
	}

	count := 0
	err = e.atomically(rc, func(w store.Writer) error {
		for i, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return fmt.Errorf("bulk update element %d is %T, want a record", i, el)
			}
			pk, ok := m[record.PrimaryKey]
			if !ok {
				return fmt.Errorf("bulk update element %d is missing primary key %q", i, record.PrimaryKey)
			}
			patch := make(store.Row, len(m))
			for k, v := range m {
				if k != record.PrimaryKey {
					patch[k] = v
				}
			}
			rows, err := w.Update(s.Target, pkCondition(record, pk), patch)
			if err != nil {
				return err
			}
			count += len(rows)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": count}, nil
}

// execBulkDelete removes one row per source element, keyed by primary key.
func (e *Engine) execBulkDelete(_ context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	list, err := e.sourceList(rc, label, s)
	if err != nil {
		return nil, err
	}
	record, err := e.store.Record(s.Target)
	if err != nil {
		return nil, err
	}

	count := 0
	err = e.atomically(rc, func(w store.Writer) error {
		for _, el := range list {
			pk := el
			if m, ok := el.(map[string]any); ok {
				pk = m[record.PrimaryKey]
			}
			n, err := w.Delete(s.Target, pkCondition(record, pk))
			if err != nil {
				return err
			}
			count += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": count}, nil
}

// execFind filters, sorts, paginates, and joins.
func (e *Engine) execFind(_ context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	spec := s.Find
	if spec == nil {
		spec = &ir.FindSpec{}
	}
	if spec.Limit != nil && *spec.Limit < 0 {
		return nil, &StepError{
			Code: CodeInvalidLimit,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("limit must be non-negative, got %d", *spec.Limit),
		}
	}
	if spec.Offset != nil && *spec.Offset < 0 {
		return nil, &StepError{
			Code: CodeInvalidLimit,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("offset must be non-negative, got %d", *spec.Offset),
		}
	}

	where, err := resolveCondition(spec.Where, rc.st)
	if err != nil {
		return nil, err
	}
	resolved := *spec
	resolved.Where = where

	rows, err := e.store.Find(s.Target, &resolved)
	if err != nil {
		return nil, err
	}
	for _, j := range spec.Joins {
		rows, err = e.store.Join(rows, j.Field, j.Record, j.As)
		if err != nil {
			return nil, err
		}
	}
	return rowsToAny(rows), nil
}

// sourceList resolves a bulk step's source expression. A non-list value is
// a step error, not a crash.
func (e *Engine) sourceList(rc *runCtx, label string, s *ir.Step) ([]any, error) {
	v, err := expr.Resolve(s.Source, rc.st)
	if err != nil {
		return nil, err
	}
	list, ok := toList(v)
	if !ok {
		return nil, &StepError{
			Code: CodeNonListSource,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("source %q evaluated to %T, want a list", s.Source, v),
		}
	}
	return list, nil
}

// atomically runs a multi-write operation all-or-nothing. Inside a
// transaction block the enclosing transaction already covers the writes;
// outside, the operation gets its own undo-logged transaction.
func (e *Engine) atomically(rc *runCtx, op func(store.Writer) error) error {
	if rc.inTx {
		return op(rc.writer)
	}
	tx := e.store.Begin()
	if err := op(tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// resolveParams evaluates a parameter bag against FlowState. String values
// are expressions: quoted strings are literals, identifiers resolve through
// scoping rules.
func resolveParams(params map[string]any, st *state.FlowState) (store.Row, error) {
	if params == nil {
		return store.Row{}, nil
	}
	resolved, err := expr.ResolveValue(params, st)
	if err != nil {
		return nil, err
	}
	row, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters resolved to %T, want a record", resolved)
	}
	return row, nil
}

// resolveCondition returns a copy of the predicate tree with string values
// evaluated against FlowState. Scope errors propagate; a plain unresolved
// identifier is kept as a literal so frontend-lowered constants compare
// as-is.
func resolveCondition(c *ir.Condition, st *state.FlowState) (*ir.Condition, error) {
	if c == nil {
		return nil, nil
	}
	out := *c
	if len(c.All) > 0 {
		out.All = make([]ir.Condition, len(c.All))
		for i := range c.All {
			r, err := resolveCondition(&c.All[i], st)
			if err != nil {
				return nil, err
			}
			out.All[i] = *r
		}
		return &out, nil
	}
	if len(c.Any) > 0 {
		out.Any = make([]ir.Condition, len(c.Any))
		for i := range c.Any {
			r, err := resolveCondition(&c.Any[i], st)
			if err != nil {
				return nil, err
			}
			out.Any[i] = *r
		}
		return &out, nil
	}
	v, err := resolveOperand(c.Value, st)
	if err != nil {
		return nil, err
	}
	out.Value = v
	return &out, nil
}

// resolveOperand evaluates a comparison operand. Strings go through
// expression resolution; a plain unresolved identifier falls back to the
// raw string so frontend-lowered constants compare literally, while scope
// errors with a definite referent (alias not run, loop var out of scope)
// still propagate.
func resolveOperand(v any, st *state.FlowState) (any, error) {
	sv, ok := v.(string)
	if !ok {
		return v, nil
	}
	resolved, err := expr.Resolve(sv, st)
	if err != nil {
		var scopeErr *state.Error
		if errors.As(err, &scopeErr) && scopeErr.Code != state.CodeUnresolved {
			return nil, err
		}
		return sv, nil
	}
	return resolved, nil
}

// pkCondition builds an equality predicate on a record's primary key.
func pkCondition(r *ir.Record, pk any) *ir.Condition {
	return &ir.Condition{Field: r.PrimaryKey, Op: ir.OpEq, Value: pk}
}

// toList normalizes list-shaped values.
func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []store.Row:
		out := make([]any, len(list))
		for i, row := range list {
			out[i] = row
		}
		return out, true
	default:
		return nil, false
	}
}

// rowsToAny converts a row slice to the []any shape FlowState traverses.
func rowsToAny(rows []store.Row) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}

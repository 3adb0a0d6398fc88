// Package state holds the live variable environment for one flow run.
//
// A FlowState maps local bindings introduced by `let`/`set`, step outputs
// addressed as "alias.output.<field>", and the implicit `last_output` slot
// updated after every step. Scoping is lexical: a bare identifier resolves
// only against bindings introduced earlier in the same scope chain, loop
// variables vanish when their loop exits, and a step alias is addressable
// only after the aliased step has executed.
//
// FlowState is owned exclusively by a single run and is not safe for
// concurrent use.
package state

import (
	"fmt"
	"strings"
)

// LastOutput is the implicit binding updated after every step.
const LastOutput = "last_output"

// ScopeKind distinguishes scope frames for error reporting.
type ScopeKind string

// Scope kinds.
const (
	ScopeFlow        ScopeKind = "flow"
	ScopeLoop        ScopeKind = "loop"
	ScopeTransaction ScopeKind = "transaction"
)

type scope struct {
	kind ScopeKind
	vars map[string]any
}

// FlowState is the per-run variable and output environment.
type FlowState struct {
	scopes  []scope
	outputs map[string]any

	// declared holds every alias the flow will bind, so referencing one
	// before its step has run yields a distinct error from a typo.
	declared map[string]bool

	// retired remembers loop variables whose scope has exited, for the
	// remediation hint.
	retired map[string]bool

	last    any
	hasLast bool
}

// New creates a FlowState with the given initial bindings in the flow scope.
func New(initial map[string]any) *FlowState {
	root := scope{kind: ScopeFlow, vars: make(map[string]any, len(initial))}
	for k, v := range initial {
		root.vars[k] = v
	}
	return &FlowState{
		scopes:   []scope{root},
		outputs:  make(map[string]any),
		declared: make(map[string]bool),
		retired:  make(map[string]bool),
	}
}

// DeclareAliases registers the aliases the flow will bind during execution.
func (s *FlowState) DeclareAliases(names ...string) {
	for _, n := range names {
		if n != "" {
			s.declared[n] = true
		}
	}
}

// Push opens a new lexical scope (loop body, transaction block).
func (s *FlowState) Push(kind ScopeKind) {
	s.scopes = append(s.scopes, scope{kind: kind, vars: make(map[string]any)})
}

// Pop closes the innermost scope. Loop variables defined in it become
// unresolvable again, even if a binding of the same name was visible before.
func (s *FlowState) Pop() {
	if len(s.scopes) <= 1 {
		return
	}
	top := s.scopes[len(s.scopes)-1]
	if top.kind == ScopeLoop {
		for name := range top.vars {
			s.retired[name] = true
		}
	}
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// Define binds a name in the innermost scope (`let`, loop variables).
func (s *FlowState) Define(name string, v any) {
	s.scopes[len(s.scopes)-1].vars[name] = v
	delete(s.retired, name)
}

// Assign updates an existing binding (`set`), searching the scope chain from
// innermost outward. Assigning an unbound name is a scope error.
func (s *FlowState) Assign(name string, v any) error {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if _, ok := s.scopes[i].vars[name]; ok {
			s.scopes[i].vars[name] = v
			return nil
		}
	}
	return &Error{
		Code: CodeUnresolved,
		Name: name,
		Hint: "declare it with `let` before assigning",
	}
}

// SetOutput binds a step's output under its alias and updates last_output.
func (s *FlowState) SetOutput(alias string, v any) {
	if alias != "" {
		s.outputs[alias] = v
		s.declared[alias] = true
	}
	s.SetLast(v)
}

// SetLast updates only the implicit last_output slot.
func (s *FlowState) SetLast(v any) {
	s.last = v
	s.hasLast = true
}

// Last returns the current last_output value.
func (s *FlowState) Last() any {
	return s.last
}

// Output returns the output bound to an alias, if the step has run.
func (s *FlowState) Output(alias string) (any, bool) {
	v, ok := s.outputs[alias]
	return v, ok
}

// Resolve resolves an identifier or dotted path.
//
// Supported forms:
//   - last_output[.field...]
//   - <alias>.output[.field...]  (only after the aliased step has run)
//   - <local>[.field...]         (lexical scope chain, innermost first)
func (s *FlowState) Resolve(name string) (any, error) {
	parts := strings.Split(name, ".")
	head := parts[0]

	if head == LastOutput {
		if !s.hasLast {
			return nil, &Error{
				Code: CodeUnresolved,
				Name: name,
				Hint: "no step has produced an output yet",
			}
		}
		return traverse(s.last, parts[1:], name)
	}

	if len(parts) >= 2 && parts[1] == "output" {
		out, ran := s.outputs[head]
		if !ran {
			if s.declared[head] {
				return nil, &Error{
					Code: CodeAliasNotRun,
					Name: head,
					Hint: fmt.Sprintf("step %q has not executed yet; reference it after the aliased step", head),
				}
			}
			return nil, &Error{
				Code: CodeUnknownAlias,
				Name: head,
				Hint: "no step in this flow declares that alias",
			}
		}
		return traverse(out, parts[2:], name)
	}

	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i].vars[head]; ok {
			return traverse(v, parts[1:], name)
		}
	}

	if s.retired[head] {
		return nil, &Error{
			Code: CodeLoopVarOutOfScope,
			Name: head,
			Hint: "loop variables are visible only inside their loop body",
		}
	}
	return nil, &Error{
		Code: CodeUnresolved,
		Name: head,
		Hint: "bare identifiers resolve against local bindings only; step outputs need `alias.output.<field>`",
	}
}

// Snapshot flattens the visible bindings and outputs for journaling and the
// final result. Inner scopes shadow outer ones.
func (s *FlowState) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, sc := range s.scopes {
		for k, v := range sc.vars {
			out[k] = v
		}
	}
	for alias, v := range s.outputs {
		out[alias+".output"] = v
	}
	if s.hasLast {
		out[LastOutput] = s.last
	}
	return out
}

// traverse walks a dotted field path into nested map values.
func traverse(v any, fields []string, full string) (any, error) {
	for _, f := range fields {
		m, ok := asMap(v)
		if !ok {
			return nil, &Error{
				Code: CodeUnresolved,
				Name: full,
				Hint: fmt.Sprintf("%q is not a record, cannot read field %q", full, f),
			}
		}
		v, ok = m[f]
		if !ok {
			return nil, &Error{
				Code: CodeUnresolved,
				Name: full,
				Hint: fmt.Sprintf("field %q not present", f),
			}
		}
	}
	return v, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

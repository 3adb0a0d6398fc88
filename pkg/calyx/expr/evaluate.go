package expr

import (
	"strings"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// Eval evaluates a boolean `when` expression against the lookup.
//
// Supports: ==, !=, <, >, <=, >=, contains, and, or, not, ! prefixes, and
// bare truthiness of a single operand. Operands are resolved with Resolve,
// so quoted strings are literals and identifiers go through FlowState
// scoping rules.
func Eval(cond string, lk Lookup) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false, nil
	}

	if inner, ok := strings.CutPrefix(cond, "not "); ok {
		result, err := Eval(strings.TrimSpace(inner), lk)
		if err != nil {
			return false, err
		}
		return !result, nil
	}
	if inner, ok := strings.CutPrefix(cond, "!"); ok {
		result, err := Eval(strings.TrimSpace(inner), lk)
		if err != nil {
			return false, err
		}
		return !result, nil
	}

	// Left-to-right: split on the first connective only, so "a and b or c"
	// evaluates as "a and (b or c)" the way a recursive descent would.
	if parts := strings.SplitN(cond, " and ", 2); len(parts) == 2 {
		return evalPair(parts[0], parts[1], lk, func(l, r bool) bool { return l && r })
	}
	if parts := strings.SplitN(cond, " or ", 2); len(parts) == 2 {
		return evalPair(parts[0], parts[1], lk, func(l, r bool) bool { return l || r })
	}

	// Longer operators first so ">=" is not read as ">".
	ops := []struct {
		token string
		op    ir.CmpOp
	}{
		{"==", ir.OpEq},
		{"!=", ir.OpNeq},
		{">=", ir.OpGte},
		{"<=", ir.OpLte},
		{">", ir.OpGt},
		{"<", ir.OpLt},
		{" contains ", ir.OpContains},
	}
	for _, o := range ops {
		idx := strings.Index(cond, o.token)
		if idx < 0 {
			continue
		}
		left, err := Resolve(cond[:idx], lk)
		if err != nil {
			return false, err
		}
		right, err := Resolve(cond[idx+len(o.token):], lk)
		if err != nil {
			return false, err
		}
		return Compare(o.op, left, right)
	}

	// Single operand: truthiness.
	v, err := Resolve(cond, lk)
	if err != nil {
		return false, err
	}
	return IsTruthy(v), nil
}

func evalPair(left, right string, lk Lookup, combine func(l, r bool) bool) (bool, error) {
	l, err := Eval(left, lk)
	if err != nil {
		return false, err
	}
	r, err := Eval(right, lk)
	if err != nil {
		return false, err
	}
	return combine(l, r), nil
}

package expr

import (
	"fmt"
	"strings"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// Equal compares two values, numerically when both sides convert to numbers
// and by normalized string form otherwise.
func Equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lf, lok := ToFloat64(left); lok {
		if rf, rok := ToFloat64(right); rok {
			return lf == rf
		}
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

// Compare evaluates one predicate operator against a field value.
// Returns an error for unknown operators and for OpIn with a non-list
// operand.
func Compare(op ir.CmpOp, left, right any) (bool, error) {
	switch op {
	case ir.OpEq:
		return Equal(left, right), nil
	case ir.OpNeq:
		return !Equal(left, right), nil
	case ir.OpGt:
		return compareNumeric(left, right, func(l, r float64) bool { return l > r }), nil
	case ir.OpGte:
		return compareNumeric(left, right, func(l, r float64) bool { return l >= r }), nil
	case ir.OpLt:
		return compareNumeric(left, right, func(l, r float64) bool { return l < r }), nil
	case ir.OpLte:
		return compareNumeric(left, right, func(l, r float64) bool { return l <= r }), nil
	case ir.OpIn:
		list, ok := right.([]any)
		if !ok {
			return false, fmt.Errorf("operator %q requires a list operand, got %T", op, right)
		}
		for _, item := range list {
			if Equal(left, item) {
				return true, nil
			}
		}
		return false, nil
	case ir.OpIsNull:
		return left == nil, nil
	case ir.OpNotNull:
		return left != nil, nil
	case ir.OpContains:
		return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right)), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// compareNumeric applies an ordering comparison. Values that do not convert
// to numbers compare false, mirroring the language's loose numeric ordering.
func compareNumeric(left, right any, cmp func(l, r float64) bool) bool {
	lf, lok := ToFloat64(left)
	rf, rok := ToFloat64(right)
	if !lok || !rok {
		return false
	}
	return cmp(lf, rf)
}

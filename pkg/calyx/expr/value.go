// Package expr resolves and compares Calyx runtime values.
//
// The package has two halves: value resolution, which turns an expression
// string into a literal or a FlowState lookup, and comparison, which backs
// both find predicates and conditional `when` expressions.
package expr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Lookup resolves an identifier or dotted path to a value. It is implemented
// by state.FlowState; resolution failures carry scope error context and are
// propagated unchanged.
type Lookup interface {
	Resolve(name string) (any, error)
}

// LookupMap adapts a plain map to the Lookup interface for tests and
// collaborators that carry no scoping rules.
type LookupMap map[string]any

// Resolve implements Lookup. Unknown names resolve to an error.
func (m LookupMap) Resolve(name string) (any, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown identifier %q", name)
}

// Resolve evaluates an expression string to a value.
//
// Quoted strings (single or double), booleans, null, and numbers are
// literals; anything else is resolved through the lookup, and the lookup's
// error is returned unchanged so scope errors keep their code and hint.
func Resolve(s string, lk Lookup) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	if (strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) ||
		(strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)) {
		if len(s) < 2 {
			return "", nil
		}
		return s[1 : len(s)-1], nil
	}

	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "nil":
		return nil, nil
	}

	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i, nil
		}
		if f, err := num.Float64(); err == nil {
			return f, nil
		}
	}

	if lk == nil {
		return nil, fmt.Errorf("unknown identifier %q", s)
	}
	return lk.Resolve(s)
}

// ResolveValue evaluates a parameter-bag value. Strings are treated as
// expressions; nested maps and lists are resolved element-wise; everything
// else passes through untouched.
func ResolveValue(v any, lk Lookup) (any, error) {
	switch val := v.(type) {
	case string:
		return Resolve(val, lk)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			r, err := ResolveValue(nested, lk)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			r, err := ResolveValue(nested, lk)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// IsTruthy returns whether a value is truthy. nil is false, bools return
// their value, empty strings are false, zero numbers are false, everything
// else is true.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case float64:
		return val != 0
	case float32:
		return val != 0
	default:
		return true
	}
}

// ToFloat64 converts a value to float64 for numeric comparison.
// Returns 0 and false for values that cannot be converted.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(val, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

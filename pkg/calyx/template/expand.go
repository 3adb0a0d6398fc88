// Package template expands ${var} placeholders against FlowState.
//
// Tool URLs, header values, and string body fields may reference run
// variables and step outputs (including dotted paths such as
// ${user.output.id}); expansion resolves them through the same lookup the
// step interpreter uses, so scoping rules apply unchanged.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// bracePattern matches ${path} where path is an identifier optionally
// followed by dotted segments.
var bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\}`)

// MissingAction specifies how to handle unresolvable placeholders.
type MissingAction int

const (
	// MissingKeep keeps the placeholder as-is. This is the default.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError returns an error naming the unresolved placeholders.
	MissingError
)

// Lookup resolves a placeholder path to a value. Implemented by FlowState.
type Lookup interface {
	Resolve(name string) (any, error)
}

// UndefinedVariableError reports placeholders that failed to resolve under
// MissingError.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

// Expander expands ${path} placeholders.
// Expander is safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
}

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how unresolvable placeholders are handled.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// NewExpander creates an Expander with the given options.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces every ${path} in s with the lookup's value for path.
//
// Returns the expanded string. An error is only returned under
// MissingError when one or more paths fail to resolve.
func (e *Expander) Expand(s string, lk Lookup) (string, error) {
	if s == "" || !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	result := bracePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[2 : len(match)-1]
		if lk != nil {
			if val, err := lk.Resolve(path); err == nil {
				return fmt.Sprintf("%v", val)
			}
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, path)
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// ExpandMap expands every string value of a map, recursing into nested maps
// and lists. Non-string values pass through untouched.
func (e *Expander) ExpandMap(in map[string]any, lk Lookup) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		expanded, err := e.expandValue(v, lk)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}

func (e *Expander) expandValue(v any, lk Lookup) (any, error) {
	switch val := v.(type) {
	case string:
		return e.Expand(val, lk)
	case map[string]any:
		return e.ExpandMap(val, lk)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			expanded, err := e.expandValue(item, lk)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

package state

import "fmt"

// Stable scope error codes, exposed unchanged at the engine boundary.
const (
	CodeUnknownAlias      = "scope/unknown_alias"
	CodeAliasNotRun       = "scope/alias_not_run"
	CodeUnresolved        = "scope/unresolved_identifier"
	CodeLoopVarOutOfScope = "scope/loop_var_out_of_scope"
)

// Error is a scope resolution failure. It always carries the offending name
// and a remediation hint.
type Error struct {
	// Code is the stable error code.
	Code string

	// Name is the offending identifier or path.
	Name string

	// Hint suggests a remediation.
	Hint string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %q (%s)", e.Code, e.Name, e.Hint)
}

package engine

import (
	"errors"
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/resilience"
	"github.com/calyxlang/calyx/pkg/calyx/state"
	"github.com/calyxlang/calyx/pkg/calyx/store"
)

// Stable engine error codes. Constraint, scope, and resilience categories
// keep the codes of their originating packages; these cover control flow and
// step dispatch.
const (
	CodeNestedTransaction   = "control/nested_transaction"
	CodeUnsupportedPattern  = "control/unsupported_match_pattern"
	CodeInvalidLimit        = "control/invalid_limit"
	CodeNonListSource       = "control/non_list_source"
	CodeInvalidRetry        = "control/invalid_retry"
	CodeInvalidLoop         = "control/invalid_loop"
	CodeInvalidVector       = "control/invalid_vector_spec"
	CodeUnknownStepKind     = "control/unknown_step_kind"
	CodeMaxStepsExceeded    = "control/max_steps_exceeded"
	CodeToolLoopExceeded    = "ai/tool_loop_exceeded"
	CodeUnknownTool         = "step/unknown_tool"
	CodeUnknownModel        = "step/unknown_model"
	CodeNoAgentRunner       = "step/no_agent_runner"
	CodeNoVectorStore       = "step/no_vector_store"
	CodeStepFailed          = "step/failed"
	CodeCancelled           = "step/cancelled"
)

// errReturn is the internal signal raised by a script `return` statement.
// It halts the remaining steps of the current flow and never escapes the
// engine boundary.
var errReturn = errors.New("flow returned")

// StepError is a step-level failure carrying a stable code, the failing
// step's label, and the underlying cause.
type StepError struct {
	// Code is the stable error code for the failure category.
	Code string

	// Step is the alias or positional label of the failing step.
	Step string

	// Kind is the failing step's kind.
	Kind ir.StepKind

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %s (%s): %v", e.Code, e.Step, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// ValidationError is a flow rejected before execution: nested transactions,
// unsupported match patterns, malformed retry or loop or vector specs.
type ValidationError struct {
	// Code is the stable error code.
	Code string

	// Flow is the validated flow's name.
	Flow string

	// Detail describes the rejected construct.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: flow %q: %s", e.Code, e.Flow, e.Detail)
}

// CodeOf extracts the stable error code from any engine-surfaced error, so
// outer layers (HTTP responses, CLI exit codes) can map consistently without
// re-deriving semantics. Unknown errors map to CodeStepFailed.
func CodeOf(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Code
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Code
	}
	var constraintErr *store.ConstraintError
	if errors.As(err, &constraintErr) {
		return constraintErr.Code
	}
	var scopeErr *state.Error
	if errors.As(err, &scopeErr) {
		return scopeErr.Code
	}
	var timeoutErr *resilience.TimeoutError
	if errors.As(err, &timeoutErr) {
		return resilience.CodeTimeout
	}
	var exhaustedErr *resilience.RetryExhaustedError
	if errors.As(err, &exhaustedErr) {
		return resilience.CodeRetryExhausted
	}
	var openErr *resilience.CircuitOpenError
	if errors.As(err, &openErr) {
		return resilience.CodeCircuitOpen
	}
	var rateErr *resilience.RateLimitError
	if errors.As(err, &rateErr) {
		return resilience.CodeRateLimited
	}
	return CodeStepFailed
}

package engine

import (
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// ValidateFlow checks a flow's control-flow structure before execution.
//
// Rejected constructs: nested transactions, comparison patterns inside
// match (an explicit version-gated restriction, not a silent fallback),
// retry blocks without a positive attempt count, loops naming neither a
// source nor an iteration count, vector steps missing required fields, and
// unknown step kinds. Validation runs once per flow before the first step;
// everything it accepts can still fail at runtime with a step-level error.
func ValidateFlow(flow *ir.Flow) error {
	if err := validateSteps(flow.Name, flow.Steps, false); err != nil {
		return err
	}
	return validateSteps(flow.Name, flow.OnError, false)
}

func validateSteps(flowName string, steps []ir.Step, inTx bool) error {
	for i := range steps {
		if err := validateStep(flowName, &steps[i], inTx); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(flowName string, s *ir.Step, inTx bool) error {
	switch s.Kind {
	case ir.KindScript, ir.KindAI, ir.KindTool, ir.KindAgent,
		ir.KindDBCreate, ir.KindDBUpdate, ir.KindDBDelete,
		ir.KindBulkCreate, ir.KindBulkUpdate, ir.KindBulkDelete,
		ir.KindFind:
		return nil

	case ir.KindVectorIndex:
		if s.Vector == nil || s.Vector.Store == "" || s.Vector.Frame == "" || s.Vector.TextField == "" {
			return &ValidationError{
				Code:   CodeInvalidVector,
				Flow:   flowName,
				Detail: "vector_index_frame requires a vector store, a frame, and a text field",
			}
		}
		return nil

	case ir.KindVectorQuery:
		if s.Vector == nil || s.Vector.Store == "" || s.Vector.QueryText == "" {
			return &ValidationError{
				Code:   CodeInvalidVector,
				Flow:   flowName,
				Detail: "vector_query requires a vector store and query text",
			}
		}
		return nil

	case ir.KindIf:
		for i := range s.Branches {
			if err := validateSteps(flowName, s.Branches[i].Steps, inTx); err != nil {
				return err
			}
		}
		return nil

	case ir.KindMatch:
		for i := range s.Cases {
			c := &s.Cases[i]
			if c.Kind == ir.PatternComparison {
				return &ValidationError{
					Code:   CodeUnsupportedPattern,
					Flow:   flowName,
					Detail: fmt.Sprintf("comparison patterns are not supported in `when`: %q", c.Raw),
				}
			}
			if err := validateSteps(flowName, c.Steps, inTx); err != nil {
				return err
			}
		}
		return nil

	case ir.KindRetry:
		if s.Retry == nil || s.Retry.Attempts < 1 {
			return &ValidationError{
				Code:   CodeInvalidRetry,
				Flow:   flowName,
				Detail: "retry blocks require a positive attempt count",
			}
		}
		return validateSteps(flowName, s.Body, inTx)

	case ir.KindLoop:
		if s.Loop == nil || (s.Loop.Source == "" && s.Loop.Times <= 0) {
			return &ValidationError{
				Code:   CodeInvalidLoop,
				Flow:   flowName,
				Detail: "loops require a source expression or an iteration count",
			}
		}
		return validateSteps(flowName, s.Body, inTx)

	case ir.KindTransaction:
		if inTx {
			return &ValidationError{
				Code:   CodeNestedTransaction,
				Flow:   flowName,
				Detail: "transactions cannot nest",
			}
		}
		if err := validateSteps(flowName, s.Body, true); err != nil {
			return err
		}
		// The on-error handler runs after rollback, outside the transaction.
		return validateSteps(flowName, s.Handler, false)

	default:
		return &ValidationError{
			Code:   CodeUnknownStepKind,
			Flow:   flowName,
			Detail: fmt.Sprintf("unknown step kind %q", s.Kind),
		}
	}
}

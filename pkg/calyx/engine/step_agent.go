package engine

import (
	"context"
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// execAgent delegates to the external agent runner, forwarding the resolved
// parameters plus the run's visible state.
func (e *Engine) execAgent(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	if e.agents == nil {
		return nil, &StepError{
			Code: CodeNoAgentRunner,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("no agent runner configured"),
		}
	}
	params, err := resolveParams(s.Params, rc.st)
	if err != nil {
		return nil, err
	}
	input := rc.st.Snapshot()
	for k, v := range params {
		input[k] = v
	}
	return e.agents.Run(ctx, s.Target, input)
}

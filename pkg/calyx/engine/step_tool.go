package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/resilience"
	"github.com/calyxlang/calyx/pkg/calyx/tool"
)

// execTool executes an external tool call through the resilience wrapper.
//
// Ordinary request failures, including timeouts, exhausted retries, open
// circuits, and drained rate limits, come back as an {ok:false, error}
// envelope rather than raising past the step boundary. Only an unknown tool
// name is a step error.
func (e *Engine) execTool(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	cfg, ok := e.tools.Get(s.Target)
	if !ok {
		return nil, &StepError{
			Code: CodeUnknownTool,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("no tool registered as %q", s.Target),
		}
	}

	args, err := resolveParams(s.Params, rc.st)
	if err != nil {
		return nil, err
	}
	env := e.invokeTool(ctx, rc, cfg, args)
	return env.Map(), nil
}

// invokeTool runs one guarded tool call and folds the outcome into the
// uniform envelope.
func (e *Engine) invokeTool(ctx context.Context, rc *runCtx, cfg *tool.Config, args map[string]any) tool.Envelope {
	key := "tool:" + cfg.Name

	if err := e.limiters.Allow(key, resilience.LimitConfig{
		CallsPerMinute: cfg.RatePerMinute,
		Burst:          cfg.RateBurst,
	}); err != nil {
		return tool.Envelope{OK: false, Error: err.Error()}
	}

	endpoint, err := e.expander.Expand(cfg.URL, rc.st)
	if err != nil {
		return tool.Envelope{OK: false, Error: err.Error()}
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		expanded, err := e.expander.Expand(v, rc.st)
		if err != nil {
			return tool.Envelope{OK: false, Error: err.Error()}
		}
		headers[k] = expanded
	}

	attempt := 0
	data, err := resilience.Call(ctx, key, cfg.Policy(e.runtime.DefaultTimeout), e.breakers,
		func(attemptCtx context.Context) (any, error) {
			attempt++
			if attempt > 1 {
				e.metrics.RecordRetry(attemptCtx, key)
			}
			return e.client.Invoke(attemptCtx, cfg, endpoint, headers, args)
		})
	if err != nil {
		env := tool.Envelope{OK: false, Error: err.Error()}
		var httpErr *resilience.HTTPError
		if errors.As(err, &httpErr) {
			env.Status = httpErr.StatusCode
		}
		return env
	}
	return tool.Envelope{OK: true, Data: data}
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/event"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/llm"
	"github.com/calyxlang/calyx/pkg/calyx/resilience"
)

// execAI resolves a model through the router and performs the provider
// call, streaming chunks or alternating with tool executions when the spec
// asks for it. Resilience errors from the provider propagate as flow
// errors, unlike tool steps which fold them into an envelope.
func (e *Engine) execAI(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	if e.router == nil {
		return nil, &StepError{
			Code: CodeUnknownModel,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("no model router configured"),
		}
	}
	spec := s.AI

	sel, err := e.router.Select(spec.Model)
	if err != nil {
		return nil, &StepError{Code: CodeUnknownModel, Step: label, Kind: s.Kind, Err: err}
	}

	if spec.System != "" {
		system, err := e.expander.Expand(spec.System, rc.st)
		if err != nil {
			return nil, err
		}
		rc.messages = append(rc.messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	if spec.Prompt != "" {
		prompt, err := e.expander.Expand(spec.Prompt, rc.st)
		if err != nil {
			return nil, err
		}
		rc.messages = append(rc.messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	}

	toolSpecs, err := e.aiToolSpecs(label, s)
	if err != nil {
		return nil, err
	}

	policy := resilience.Policy{Timeout: e.runtime.DefaultTimeout, Idempotent: true}
	key := "model:" + sel.Provider

	if spec.Stream {
		return e.streamAI(ctx, rc, label, sel, toolSpecs, policy, key)
	}
	if spec.ToolLoop {
		return e.toolLoop(ctx, rc, label, s, sel, toolSpecs, policy, key)
	}

	req := llm.Request{Model: sel.Model, Messages: rc.messages, Tools: toolSpecs}

	var fp string
	if e.cache != nil {
		fp = llm.Fingerprint(req)
		if resp, ok := e.cache.Get(fp); ok {
			rc.messages = append(rc.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return resp.Content, nil
		}
	}

	resp, err := resilience.Call(ctx, key, policy, e.breakers,
		func(c context.Context) (llm.Response, error) {
			return e.router.Generate(c, req)
		})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Put(fp, resp)
	}
	rc.messages = append(rc.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	return resp.Content, nil
}

// streamAI performs one streaming provider call, emitting each chunk in
// provider order followed by exactly one terminal ai_done or flow_error.
func (e *Engine) streamAI(ctx context.Context, rc *runCtx, label string, sel llm.Selection, tools []llm.ToolSpec, policy resilience.Policy, key string) (any, error) {
	req := llm.Request{Model: sel.Model, Messages: rc.messages, Tools: tools}

	resp, err := resilience.Call(ctx, key, policy, e.breakers,
		func(c context.Context) (llm.Response, error) {
			return e.router.Stream(c, req, func(chunk llm.Chunk) error {
				rc.emitter.Emit(event.KindAIChunk, label, chunk.Delta)
				return nil
			})
		})
	if err != nil {
		rc.emitter.EmitTerminal(event.KindFlowError, label, nil, err.Error())
		return nil, err
	}
	rc.messages = append(rc.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	rc.emitter.EmitTerminal(event.KindAIDone, label, resp.Content, "")
	return resp.Content, nil
}

// toolLoop alternates provider calls and tool executions until the provider
// produces a final answer or the iteration cap is hit.
func (e *Engine) toolLoop(ctx context.Context, rc *runCtx, label string, s *ir.Step, sel llm.Selection, tools []llm.ToolSpec, policy resilience.Policy, key string) (any, error) {
	maxIter := s.AI.MaxToolIterations
	if maxIter <= 0 {
		maxIter = e.runtime.MaxToolIterations
	}

	for iter := 0; iter < maxIter; iter++ {
		req := llm.Request{Model: sel.Model, Messages: rc.messages, Tools: tools}
		resp, err := resilience.Call(ctx, key, policy, e.breakers,
			func(c context.Context) (llm.Response, error) {
				return e.router.Generate(c, req)
			})
		if err != nil {
			return nil, err
		}
		rc.messages = append(rc.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		for _, call := range resp.ToolCalls {
			cfg, ok := e.tools.Get(call.Name)
			if !ok {
				return nil, &StepError{
					Code: CodeUnknownTool,
					Step: label,
					Kind: s.Kind,
					Err:  fmt.Errorf("provider requested unknown tool %q", call.Name),
				}
			}
			env := e.invokeTool(ctx, rc, cfg, call.Arguments)
			payload, _ := json.Marshal(env.Map())
			rc.messages = append(rc.messages, llm.Message{
				Role:       llm.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}
	}

	return nil, &StepError{
		Code: CodeToolLoopExceeded,
		Step: label,
		Kind: s.Kind,
		Err:  fmt.Errorf("no final answer after %d provider/tool iterations", maxIter),
	}
}

// aiToolSpecs resolves the step's offered tool names to provider specs.
func (e *Engine) aiToolSpecs(label string, s *ir.Step) ([]llm.ToolSpec, error) {
	if len(s.AI.Tools) == 0 {
		return nil, nil
	}
	specs := make([]llm.ToolSpec, 0, len(s.AI.Tools))
	for _, name := range s.AI.Tools {
		if !e.tools.Has(name) {
			return nil, &StepError{
				Code: CodeUnknownTool,
				Step: label,
				Kind: s.Kind,
				Err:  fmt.Errorf("no tool registered as %q", name),
			}
		}
		specs = append(specs, llm.ToolSpec{Name: name})
	}
	return specs, nil
}

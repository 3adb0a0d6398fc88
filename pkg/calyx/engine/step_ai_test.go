package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/engine"
	"github.com/calyxlang/calyx/pkg/calyx/event"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/llm"
	"github.com/calyxlang/calyx/pkg/calyx/tool"
)

func aiFlow(spec *ir.AISpec) *ir.Flow {
	return &ir.Flow{
		Name: "Ask",
		Steps: []ir.Step{
			{Kind: ir.KindAI, Alias: "ask", Target: spec.Model, AI: spec},
		},
	}
}

func TestRun_AIStep(t *testing.T) {
	t.Run("generate binds the answer", func(t *testing.T) {
		router := &llm.MockRouter{Responses: []llm.Response{{Content: "42"}}}
		eng := newEngine(t, engine.WithRouter(router))

		result, err := eng.Run(context.Background(),
			aiFlow(&ir.AISpec{Model: "default", Prompt: "What is the answer?"}), nil)
		require.NoError(t, err)
		assert.Equal(t, "42", result.State["ask.output"])
		assert.Equal(t, "42", result.State["last_output"])

		calls := router.Calls()
		require.Len(t, calls, 1)
		require.Len(t, calls[0].Messages, 1)
		assert.Equal(t, llm.RoleUser, calls[0].Messages[0].Role)
	})

	t.Run("system prompt and prompt expansion", func(t *testing.T) {
		router := &llm.MockRouter{Responses: []llm.Response{{Content: "ok"}}}
		eng := newEngine(t, engine.WithRouter(router))

		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{
			Model:  "default",
			System: "You help ${team}.",
			Prompt: "Summarize for ${team}.",
		}), map[string]any{"team": "support"})
		require.NoError(t, err)

		msgs := router.Calls()[0].Messages
		require.Len(t, msgs, 2)
		assert.Equal(t, llm.RoleSystem, msgs[0].Role)
		assert.Equal(t, "You help support.", msgs[0].Content)
		assert.Equal(t, "Summarize for support.", msgs[1].Content)
	})

	t.Run("no router configured", func(t *testing.T) {
		eng := newEngine(t)
		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{Model: "default", Prompt: "hi"}), nil)
		require.Error(t, err)
		assert.Equal(t, engine.CodeUnknownModel, engine.CodeOf(err))
	})

	t.Run("unresolvable model", func(t *testing.T) {
		router := &llm.MockRouter{Models: map[string]llm.Selection{}}
		eng := newEngine(t, engine.WithRouter(router))
		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{Model: "missing", Prompt: "hi"}), nil)
		require.Error(t, err)
		assert.Equal(t, engine.CodeUnknownModel, engine.CodeOf(err))
	})

	t.Run("provider error propagates as a flow error", func(t *testing.T) {
		router := &llm.MockRouter{Err: errors.New("provider down")}
		eng := newEngine(t, engine.WithRouter(router))
		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{Model: "default", Prompt: "hi"}), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider down")
	})

	t.Run("cache serves a repeat run without a provider call", func(t *testing.T) {
		router := &llm.MockRouter{Responses: []llm.Response{{Content: "cached answer"}}}
		cache := llm.NewMemoryCache()
		eng := newEngine(t, engine.WithRouter(router), engine.WithCache(cache))
		flow := aiFlow(&ir.AISpec{Model: "default", Prompt: "same question"})

		result, err := eng.Run(context.Background(), flow, nil)
		require.NoError(t, err)
		assert.Equal(t, "cached answer", result.Result)

		result, err = eng.Run(context.Background(), flow, nil)
		require.NoError(t, err)
		assert.Equal(t, "cached answer", result.State["ask.output"])
		assert.Len(t, router.Calls(), 1)
	})
}

func TestRun_AIStreaming(t *testing.T) {
	t.Run("ordered chunks followed by exactly one ai_done", func(t *testing.T) {
		router := &llm.MockRouter{
			Responses: []llm.Response{{Content: "Hello"}},
			Chunks:    [][]string{{"Hel", "lo"}},
		}
		eng := newEngine(t, engine.WithRouter(router))

		var events []event.Event
		result, err := eng.RunStream(context.Background(),
			aiFlow(&ir.AISpec{Model: "default", Prompt: "greet", Stream: true}), nil,
			func(e event.Event) { events = append(events, e) })
		require.NoError(t, err)
		assert.Equal(t, "Hello", result.State["last_output"])

		var kinds []event.Kind
		var chunks []string
		aiDone := 0
		for _, e := range events {
			kinds = append(kinds, e.Kind)
			if e.Kind == event.KindAIChunk {
				chunks = append(chunks, e.Data.(string))
			}
			if e.Kind == event.KindAIDone {
				aiDone++
				assert.Equal(t, "Hello", e.Data)
			}
		}
		assert.Equal(t, []string{"Hel", "lo"}, chunks)
		assert.Equal(t, 1, aiDone)
		assert.Equal(t, []event.Kind{
			event.KindStepStarted,
			event.KindAIChunk,
			event.KindAIChunk,
			event.KindAIDone,
			event.KindStepCompleted,
			event.KindFlowCompleted,
		}, kinds)
	})

	t.Run("stream failure emits one terminal flow_error", func(t *testing.T) {
		router := &llm.MockRouter{Err: errors.New("stream broke")}
		eng := newEngine(t, engine.WithRouter(router))

		var events []event.Event
		_, err := eng.RunStream(context.Background(),
			aiFlow(&ir.AISpec{Model: "default", Prompt: "greet", Stream: true}), nil,
			func(e event.Event) { events = append(events, e) })
		require.Error(t, err)

		flowErrors := 0
		for _, e := range events {
			if e.Kind == event.KindFlowError {
				flowErrors++
				assert.Contains(t, e.Error, "stream broke")
			}
			assert.NotEqual(t, event.KindAIDone, e.Kind)
		}
		assert.Equal(t, 1, flowErrors)
	})
}

func TestRun_AIToolLoop(t *testing.T) {
	t.Run("alternates provider and tool calls until a final answer", func(t *testing.T) {
		var toolHits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			toolHits++
			assert.Equal(t, "oslo", r.URL.Query().Get("city"))
			json.NewEncoder(w).Encode(map[string]any{"temp": 4})
		}))
		defer srv.Close()

		router := &llm.MockRouter{Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "weather", Arguments: map[string]any{"city": "oslo"}}}},
			{Content: "It is 4 degrees in Oslo."},
		}}
		eng := newEngine(t,
			engine.WithRouter(router),
			engine.WithTools(&tool.Config{Name: "weather", Method: "GET", URL: srv.URL}))

		result, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{
			Model:    "default",
			Prompt:   "Weather in Oslo?",
			Tools:    []string{"weather"},
			ToolLoop: true,
		}), nil)
		require.NoError(t, err)
		assert.Equal(t, "It is 4 degrees in Oslo.", result.State["ask.output"])
		assert.Equal(t, 1, toolHits)

		// The second provider request carries the tool result message.
		calls := router.Calls()
		require.Len(t, calls, 2)
		last := calls[1].Messages[len(calls[1].Messages)-1]
		assert.Equal(t, llm.RoleTool, last.Role)
		assert.Equal(t, "weather", last.Name)
		assert.Equal(t, "c1", last.ToolCallID)
		assert.Contains(t, last.Content, `"ok":true`)
	})

	t.Run("iteration cap yields a tool-loop error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		// The provider keeps asking for the tool and never answers.
		router := &llm.MockRouter{Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "poke"}}},
		}}
		eng := newEngine(t,
			engine.WithRouter(router),
			engine.WithTools(&tool.Config{Name: "poke", Method: "GET", URL: srv.URL}))

		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{
			Model:             "default",
			Prompt:            "loop forever",
			Tools:             []string{"poke"},
			ToolLoop:          true,
			MaxToolIterations: 2,
		}), nil)
		require.Error(t, err)
		assert.Equal(t, engine.CodeToolLoopExceeded, engine.CodeOf(err))
	})

	t.Run("provider requesting an unregistered tool", func(t *testing.T) {
		router := &llm.MockRouter{Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "secret"}}},
		}}
		eng := newEngine(t, engine.WithRouter(router))

		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{
			Model:    "default",
			Prompt:   "hi",
			ToolLoop: true,
		}), nil)
		require.Error(t, err)
		assert.Equal(t, engine.CodeUnknownTool, engine.CodeOf(err))
	})

	t.Run("offering an unregistered tool", func(t *testing.T) {
		router := &llm.MockRouter{}
		eng := newEngine(t, engine.WithRouter(router))
		_, err := eng.Run(context.Background(), aiFlow(&ir.AISpec{
			Model:  "default",
			Prompt: "hi",
			Tools:  []string{"ghost"},
		}), nil)
		require.Error(t, err)
		assert.Equal(t, engine.CodeUnknownTool, engine.CodeOf(err))
	})
}

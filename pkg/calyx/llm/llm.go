// Package llm defines the model-router boundary the engine delegates AI
// steps to.
//
// The router resolves a logical model name to a concrete provider and
// performs the actual network calls; this module only specifies the
// interface and ships a scripted mock for tests. Provider implementations
// live with the host application.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name carries the tool name for RoleTool results.
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool result back to the call that requested it.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec describes an available tool to the provider.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}

// ToolCall is a tool invocation requested by the provider.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Request configures one provider call.
type Request struct {
	// Model is the concrete model returned by Select.
	Model string `json:"model"`

	// Messages is the accumulated conversation history.
	Messages []Message `json:"messages"`

	// Tools lists the tool specs offered for this call.
	Tools []ToolSpec `json:"tools,omitempty"`
}

// Response is the output of one provider call.
type Response struct {
	Content      string        `json:"content"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Chunk is one streamed fragment of a response.
type Chunk struct {
	// Delta is the text appended by this chunk.
	Delta string `json:"delta"`
}

// Selection resolves a logical model name.
type Selection struct {
	// Provider names the backing provider.
	Provider string `json:"provider"`

	// Model is the concrete model identifier sent on the wire.
	Model string `json:"model"`
}

// Router resolves logical model names and executes provider calls. It is an
// external collaborator: implementations perform real network I/O and must
// honor context cancellation.
type Router interface {
	// Select resolves a logical model name to a provider and model.
	Select(logical string) (Selection, error)

	// Generate performs one completion call.
	Generate(ctx context.Context, req Request) (Response, error)

	// Stream performs one completion call with chunked delivery. onChunk is
	// invoked in provider order; a non-nil return cancels the stream. The
	// returned Response carries the assembled final content.
	Stream(ctx context.Context, req Request, onChunk func(Chunk) error) (Response, error)
}

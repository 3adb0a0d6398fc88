package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockRouter is a scripted Router for tests and examples. Responses are
// returned in order; streaming responses are split into the configured
// chunks. MockRouter records every request for assertions.
type MockRouter struct {
	mu sync.Mutex

	// Models maps logical names to selections. A missing entry is a
	// selection error, mirroring an unconfigured model.
	Models map[string]Selection

	// Responses are consumed one per Generate/Stream call.
	Responses []Response

	// Chunks scripts Stream delivery: Chunks[i] is the chunk split for the
	// i-th streaming call. Calls beyond the script stream the whole content
	// as one chunk.
	Chunks [][]string

	// Err, when set, fails every call.
	Err error

	calls     []Request
	generated int
	streamed  int
}

// Select implements Router.
func (m *MockRouter) Select(logical string) (Selection, error) {
	if sel, ok := m.Models[logical]; ok {
		return sel, nil
	}
	if m.Models == nil {
		// Convenience default: echo the logical name.
		return Selection{Provider: "mock", Model: logical}, nil
	}
	return Selection{}, fmt.Errorf("no model configured for %q", logical)
}

// Generate implements Router.
func (m *MockRouter) Generate(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.Err != nil {
		return Response{}, m.Err
	}
	resp := m.next()
	m.generated++
	return resp, nil
}

// Stream implements Router.
func (m *MockRouter) Stream(_ context.Context, req Request, onChunk func(Chunk) error) (Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	if m.Err != nil {
		m.mu.Unlock()
		return Response{}, m.Err
	}
	resp := m.next()
	var chunks []string
	if m.streamed < len(m.Chunks) {
		chunks = m.Chunks[m.streamed]
	} else {
		chunks = []string{resp.Content}
	}
	m.streamed++
	m.mu.Unlock()

	var assembled strings.Builder
	for _, c := range chunks {
		if err := onChunk(Chunk{Delta: c}); err != nil {
			return Response{}, err
		}
		assembled.WriteString(c)
	}
	resp.Content = assembled.String()
	return resp, nil
}

// Calls returns every request seen so far.
func (m *MockRouter) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// next pops the scripted response, repeating the last one when exhausted.
func (m *MockRouter) next() Response {
	idx := m.generated + m.streamed
	if idx < len(m.Responses) {
		return m.Responses[idx]
	}
	if len(m.Responses) > 0 {
		return m.Responses[len(m.Responses)-1]
	}
	return Response{Content: "", FinishReason: "stop"}
}

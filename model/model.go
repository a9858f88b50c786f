package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/tool"
)

// ToolCall represents a structured function call surfaced by an engine.
// Unified across vendors so downstream logic does not need per-provider
// branching; arguments are decoded into a plain map at the adapter boundary.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Request captures the normalized inference input assembled by the
// orchestrator: standing instructions, the bounded history window and the
// tool definitions the engine may call.
type Request struct {
	Instructions string            `json:"instructions,omitempty"`
	Messages     []core.Message    `json:"messages"`
	Tools        []tool.Definition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one whole completion.
type Response struct {
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about an engine implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Engine is the minimal interface the orchestrator needs from an inference
// backend.
type Engine interface {
	// Complete runs one inference call and returns the whole completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the engine implementation.
	Info() Info
}

// MockEngine is a lightweight in-memory Engine useful for tests & examples.
// Responses can be scripted two ways: Enqueue for an exact call-by-call
// sequence (consumed first) and AddResponse for prompt-keyed canned
// completions. Every received request is recorded for assertions.
type MockEngine struct {
	mu        sync.Mutex
	info      Info
	queue     []Response
	responses map[string]string
	requests  []Request
}

var _ Engine = (*MockEngine)(nil)

// NewMockEngine constructs a MockEngine with basic tool support enabled.
func NewMockEngine(name string) *MockEngine {
	return &MockEngine{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockEngine) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends a scripted response consumed in FIFO order before any
// prompt-keyed lookups.
func (m *MockEngine) Enqueue(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// Requests returns a copy of every request received so far.
func (m *MockEngine) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := make([]Request, len(m.requests))
	copy(reqs, m.requests)
	return reqs
}

// Complete implements Engine.
func (m *MockEngine) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		if resp.FinishReason == "" {
			resp.FinishReason = "stop"
		}
		return &resp, nil
	}

	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	inputText := req.Messages[len(req.Messages)-1].Content
	full := m.responses[inputText]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}

	return &Response{Text: full, FinishReason: "stop"}, nil
}

// Info implements Engine.
func (m *MockEngine) Info() Info { return m.info }

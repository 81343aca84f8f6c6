package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agency/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (minimal subset expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request captures the normalized completion input produced by the
// dispatcher: the resolved instructions, the thread history and the callee's
// tool set (including its scoped send-message tool).
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry text deltas only; the final chunk carries the accumulated text plus
// any tool call requests.
type Response struct {
	ID           string          `json:"id"`
	Partial      bool            `json:"partial"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the dispatcher requires to drive one
// agent's completion step. Channels are closed when generation terminates;
// the error channel carries at most one terminal error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Behavior is keyed on the text of the last message in the request; a
// response may be plain text or a canned tool call. FailNext injects
// transient errors to exercise the dispatcher's retry path.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]Response
	failures  int
	failErr   error
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock", SupportsTools: true},
		responses: make(map[string]Response),
	}
}

// AddResponse registers a deterministic text completion for an input prompt.
func (m *MockModel) AddResponse(prompt, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = Response{Text: text, FinishReason: "stop"}
}

// AddToolCall registers a canned tool call completion for an input prompt.
func (m *MockModel) AddToolCall(prompt string, calls ...core.ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = Response{ToolCalls: calls, FinishReason: "tool_calls"}
}

// FailNext makes the next n Generate calls fail with err before normal
// behavior resumes.
func (m *MockModel) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		m.mu.Lock()
		if m.failures > 0 {
			m.failures--
			err := m.failErr
			m.mu.Unlock()
			errCh <- err
			return
		}
		m.mu.Unlock()

		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		prompt := lastRelevantText(req.Messages)

		m.mu.Lock()
		resp, ok := m.responses[prompt]
		m.mu.Unlock()
		if !ok {
			resp = Response{Text: fmt.Sprintf("Mock response to: %s", prompt), FinishReason: "stop"}
		}

		if req.Stream && resp.Text != "" {
			for _, r := range resp.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- resp:
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// lastRelevantText returns the text of the most recent message carrying
// content, preferring the latest tool result over the opening request so a
// mock can script multi-turn tool loops. Error records are skipped so a
// retried step keys on the same prompt as the failed attempts before it.
func lastRelevantText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleError {
			continue
		}
		if msgs[i].Text != "" {
			return msgs[i].Text
		}
	}
	return ""
}

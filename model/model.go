package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentswarm/core"
)

// Request captures the normalized model input produced by the agent engine.
type Request struct {
	Messages    []core.Message        `json:"messages"`        // Full ordered conversation
	Tools       []core.ToolDescriptor `json:"tools,omitempty"` // Tools the model may call
	// Temperature is sent as given, zero included. Nil leaves the adapter default.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int64    `json:"max_tokens"`
}

// Float returns a pointer to v for Request.Temperature.
func Float(v float64) *float64 { return &v }

// TemperatureOr returns the requested temperature, or def when none is set.
func (r Request) TemperatureOr(def float64) float64 {
	if r.Temperature == nil {
		return def
	}

	return *r.Temperature
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model output for one request: free text, tool calls, or both.
type Response struct {
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the gateway the agent engine drives. Generate is a possibly
// failing remote call; errors should be classified with MarkPermanent when a
// retry cannot succeed.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

type mockStep struct {
	resp *Response
	err  error
	fn   func(req Request) (*Response, error)
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Queued steps are consumed in order; once the queue is drained the model
// echoes the last user message.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	steps    []mockStep
	requests []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
	}
}

// AddResponse queues a plain text completion.
func (m *MockModel) AddResponse(text string) *MockModel {
	return m.AddMessage(core.NewAssistantMessage(text))
}

// AddMessage queues a full assistant message (text and/or tool calls).
func (m *MockModel) AddMessage(msg core.Message) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, mockStep{resp: &Response{Message: msg, FinishReason: finishReason(msg)}})

	return m
}

// AddError queues a failure.
func (m *MockModel) AddError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, mockStep{err: err})

	return m
}

// AddFunc queues a step computed from the request.
func (m *MockModel) AddFunc(fn func(req Request) (*Response, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, mockStep{fn: fn})

	return m
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, Request{
		Messages:    core.CloneMessages(req.Messages),
		Tools:       append([]core.ToolDescriptor(nil), req.Tools...),
		Temperature: cloneFloat(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})

	var step *mockStep
	if len(m.steps) > 0 {
		step = &m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	if step == nil {
		if len(req.Messages) == 0 {
			return nil, MarkPermanent(fmt.Errorf("no messages provided"))
		}

		last := req.Messages[len(req.Messages)-1]
		msg := core.NewAssistantMessage(fmt.Sprintf("Mock response to: %s", last.Content))

		return &Response{Message: msg, FinishReason: "stop"}, nil
	}

	switch {
	case step.fn != nil:
		return step.fn(req)
	case step.err != nil:
		return nil, step.err
	default:
		resp := *step.resp
		resp.Message = resp.Message.Clone()

		return &resp, nil
	}
}

// Requests returns copies of every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

func finishReason(msg core.Message) string {
	if msg.HasToolCalls() {
		return "tool_calls"
	}

	return "stop"
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}

	return Float(*v)
}

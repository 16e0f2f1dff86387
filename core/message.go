package core

import "github.com/google/uuid"

// Role identifies the producer of a Message.
type Role string

const (
	// RoleSystem carries the system prompt.
	RoleSystem Role = "system"
	// RoleUser carries user input (tasks, follow-up prompts).
	RoleUser Role = "user"
	// RoleAssistant carries model output, optionally with tool calls.
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of exactly one tool call.
	RoleTool Role = "tool"
)

// ToolCall describes a tool invocation requested by a model.
type ToolCall struct {
	ID        string `json:"id"`                  // Correlates the call with its tool-result message
	Name      string `json:"name"`                // Tool name as registered
	Arguments string `json:"arguments,omitempty"` // Serialized JSON argument object
}

// Message is a single entry of a conversation.
//
// Content may be empty for assistant messages that only carry ToolCalls.
// Tool-result messages set ToolCallID to the originating ToolCall.ID and
// IsError when the dispatch failed.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// NewUserMessage creates a user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// NewToolResultMessage creates a tool-result message tagged with the call id.
func NewToolResultMessage(call ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       call.Name,
		ToolCallID: call.ID,
		IsError:    isError,
	}
}

// HasToolCalls reports whether the message requests any tool invocation.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}

	return m
}

// CloneMessages deep copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}

	return out
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

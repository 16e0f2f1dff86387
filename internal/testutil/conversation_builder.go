package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentswarm/core"
)

// ConversationBuilder provides a fluent helper for constructing message logs.
// Example:
//
//	msgs := NewConversationBuilder().System("be brief").User("hi").Assistant("hello").Build()
type ConversationBuilder struct {
	msgs []core.Message
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder { return &ConversationBuilder{} }

// System appends a system message (chainable).
func (b *ConversationBuilder) System(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewSystemMessage(text))
	return b
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewUserMessage(text))
	return b
}

// Assistant appends an assistant message with optional tool calls (chainable).
func (b *ConversationBuilder) Assistant(text string, calls ...core.ToolCall) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewAssistantMessage(text, calls...))
	return b
}

// ToolResult appends a successful tool-result message for call (chainable).
func (b *ConversationBuilder) ToolResult(call core.ToolCall, content string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewToolResultMessage(call, content, false))
	return b
}

// ToolError appends an error tool-result message for call (chainable).
func (b *ConversationBuilder) ToolError(call core.ToolCall, content string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewToolResultMessage(call, content, true))
	return b
}

// Build returns a copy of the accumulated messages.
func (b *ConversationBuilder) Build() []core.Message { return core.CloneMessages(b.msgs) }

// Call builds a tool call whose arguments are args marshalled to JSON. It
// panics when args cannot be marshalled.
func Call(id, name string, args map[string]any) core.ToolCall {
	data := []byte("{}")

	if args != nil {
		var err error

		data, err = json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("testutil: marshal args for %s: %v", name, err))
		}
	}

	return core.ToolCall{ID: id, Name: name, Arguments: string(data)}
}

package memory

import (
	"encoding/json"
	"sync"

	"github.com/hupe1980/agentswarm/core"
)

// Conversation is an append-only message log.
//
// Concurrency: protected by RWMutex so checkpoint writers and loggers can read
// while the owning engine appends. Returned slices are deep copies.
type Conversation struct {
	mu       sync.RWMutex
	messages []core.Message
}

// NewConversation creates a conversation seeded with the given messages.
func NewConversation(seed ...core.Message) *Conversation {
	return &Conversation{messages: core.CloneMessages(seed)}
}

// Append adds messages to the end of the log.
func (c *Conversation) Append(msgs ...core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range msgs {
		c.messages = append(c.messages, m.Clone())
	}
}

// Messages returns a deep copy of the full log in insertion order.
func (c *Conversation) Messages() []core.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := core.CloneMessages(c.messages)
	if out == nil {
		out = []core.Message{}
	}

	return out
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.messages)
}

// Last returns the most recent message.
func (c *Conversation) Last() (core.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.messages) == 0 {
		return core.Message{}, false
	}

	return c.messages[len(c.messages)-1].Clone(), true
}

// LastAssistant returns the most recent assistant message.
func (c *Conversation) LastAssistant() (core.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == core.RoleAssistant {
			return c.messages[i].Clone(), true
		}
	}

	return core.Message{}, false
}

// MarshalJSON encodes the log as a JSON array of messages.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Messages())
}

// UnmarshalJSON replaces the log with a decoded JSON array of messages.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var msgs []core.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()

	return nil
}

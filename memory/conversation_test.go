package memory

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/hupe1980/agentswarm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AppendPreservesOrder(t *testing.T) {
	conv := NewConversation(core.NewSystemMessage("sys"), core.NewUserMessage("task"))
	conv.Append(core.NewAssistantMessage("a1"), core.NewAssistantMessage("a2"))

	msgs := conv.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Equal(t, "task", msgs[1].Content)
	assert.Equal(t, "a1", msgs[2].Content)
	assert.Equal(t, "a2", msgs[3].Content)
}

func TestConversation_MessagesIsACopy(t *testing.T) {
	conv := NewConversation(core.NewAssistantMessage("", core.ToolCall{ID: "c1", Name: "sum"}))

	msgs := conv.Messages()
	msgs[0].Content = "mutated"
	msgs[0].ToolCalls[0].Name = "mutated"

	again := conv.Messages()
	assert.Equal(t, "", again[0].Content)
	assert.Equal(t, "sum", again[0].ToolCalls[0].Name)
}

func TestConversation_LastAndLastAssistant(t *testing.T) {
	conv := NewConversation()
	_, ok := conv.Last()
	assert.False(t, ok)
	assert.Empty(t, conv.Messages())

	conv.Append(core.NewUserMessage("task"), core.NewAssistantMessage("answer"))
	conv.Append(core.NewToolResultMessage(core.ToolCall{ID: "c1"}, "42", false))

	last, ok := conv.Last()
	require.True(t, ok)
	assert.Equal(t, core.RoleTool, last.Role)

	asst, ok := conv.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "answer", asst.Content)
	assert.Equal(t, 3, conv.Len())
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	conv := NewConversation(core.NewUserMessage("task"))
	conv.Append(core.NewAssistantMessage("", core.ToolCall{ID: "c1", Name: "sum", Arguments: `{"a":1}`}))
	conv.Append(core.NewToolResultMessage(core.ToolCall{ID: "c1", Name: "sum"}, "1", false))

	data, err := json.Marshal(conv)
	require.NoError(t, err)

	restored := NewConversation()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, conv.Messages(), restored.Messages())
}

func TestConversation_ConcurrentReaders(t *testing.T) {
	conv := NewConversation()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conv.Messages()
			_ = conv.Len()
		}()
	}

	for i := 0; i < 50; i++ {
		conv.Append(core.NewUserMessage("x"))
	}

	wg.Wait()
	assert.Equal(t, 50, conv.Len())
}

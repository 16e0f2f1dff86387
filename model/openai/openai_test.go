package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "checking",
      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "sum", "arguments": "{\"a\":1}"}}]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestModel_Generate(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/v1/"
	})

	resp, err := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{
			core.NewSystemMessage("sys"),
			core.NewUserMessage("task"),
			core.NewAssistantMessage("", core.ToolCall{ID: "call_0", Name: "sum", Arguments: `{"a":2}`}),
			core.NewToolResultMessage(core.ToolCall{ID: "call_0", Name: "sum"}, "2", false),
		},
		Tools: []core.ToolDescriptor{{
			Name:        "sum",
			Description: "Add numbers",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		Temperature: model.Float(0.2),
		MaxTokens:   128,
	})
	require.NoError(t, err)

	assert.Equal(t, "checking", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "sum", resp.Message.ToolCalls[0].Name)
	assert.Equal(t, `{"a":1}`, resp.Message.ToolCalls[0].Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 4)
	assert.Equal(t, "tool", msgs[3].(map[string]any)["role"])
	assert.Equal(t, "call_0", msgs[3].(map[string]any)["tool_call_id"])

	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestModel_Generate_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/v1/"
	})

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.False(t, model.IsRetryable(err))
}

func TestModel_Generate_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/v1/"
	})

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, model.IsRetryable(err))
}

func TestModel_Info(t *testing.T) {
	info := NewModel(func(o *Options) { o.APIKey = "test" }).Info()
	assert.Equal(t, "openai", info.Provider)
	assert.True(t, info.SupportsTools)
}

func TestModel_Generate_Temperature(t *testing.T) {
	var temps []any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		temps = append(temps, body["temperature"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/v1/"
	})

	msgs := []core.Message{core.NewUserMessage("hi")}

	_, err := m.Generate(context.Background(), model.Request{Messages: msgs, Temperature: model.Float(0)})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), model.Request{Messages: msgs})
	require.NoError(t, err)

	require.Len(t, temps, 2)
	assert.Equal(t, float64(0), temps[0])
	assert.Equal(t, 0.7, temps[1])
}

package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/agentswarm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModel_ConsumesStepsInOrder(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockModel("mock", "test").
		AddError(boom).
		AddResponse("T1").
		AddMessage(core.NewAssistantMessage("", core.ToolCall{ID: "c1", Name: "sum"}))

	req := Request{Messages: []core.Message{core.NewUserMessage("task")}}

	_, err := m.Generate(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	resp, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "T1", resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = m.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	resp, err = m.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: task", resp.Message.Content)

	assert.Equal(t, 4, m.Calls())
	assert.Len(t, m.Requests(), 4)
}

func TestMockModel_RecordsRequestCopies(t *testing.T) {
	m := NewMockModel("mock", "test")
	msgs := []core.Message{core.NewUserMessage("task")}

	_, err := m.Generate(context.Background(), Request{Messages: msgs})
	require.NoError(t, err)

	msgs[0].Content = "mutated"
	assert.Equal(t, "task", m.Requests()[0].Messages[0].Content)
}

func TestMockModel_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockModel("mock", "test").Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("connection reset"), true},
		{"wrapped plain", fmt.Errorf("call: %w", errors.New("eof")), true},
		{"permanent", MarkPermanent(errors.New("bad key")), false},
		{"wrapped permanent", fmt.Errorf("call: %w", MarkPermanent(errors.New("bad key"))), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	base := errors.New("api")

	assert.False(t, IsRetryable(ClassifyHTTPStatus(base, 401)))
	assert.False(t, IsRetryable(ClassifyHTTPStatus(base, 400)))
	assert.True(t, IsRetryable(ClassifyHTTPStatus(base, 429)))
	assert.True(t, IsRetryable(ClassifyHTTPStatus(base, 408)))
	assert.True(t, IsRetryable(ClassifyHTTPStatus(base, 503)))
	assert.ErrorIs(t, ClassifyHTTPStatus(base, 401), base)
	assert.Nil(t, MarkPermanent(nil))
}

func TestRequest_TemperatureOr(t *testing.T) {
	assert.Equal(t, 0.5, Request{}.TemperatureOr(0.5))
	assert.Equal(t, float64(0), Request{Temperature: Float(0)}.TemperatureOr(0.5))
}

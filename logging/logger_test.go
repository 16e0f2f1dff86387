package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer

	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})
	l.Debug("hidden")
	l.Info("agent.run.start", "agent", "alpha")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "agent.run.start", entry["msg"])
	assert.Equal(t, "alpha", entry["agent"])
}

func TestNewLogger_TextAndConsole(t *testing.T) {
	var text, console bytes.Buffer

	NewLogger(&LoggerConfig{Format: "text", Output: &text, Level: LogLevelDebug}).Debug("x.y", "k", 1)
	NewLogger(&LoggerConfig{Format: "console", Output: &console, NoColor: true}).Warn("tool.call.error", "tool", "sum")

	assert.Contains(t, text.String(), "msg=x.y")
	assert.Contains(t, console.String(), "tool.call.error")
	assert.Contains(t, console.String(), "tool=sum")
}

type recordingLogger struct {
	entries [][]any
}

func (r *recordingLogger) Debug(msg string, args ...any) { r.add(msg, args) }
func (r *recordingLogger) Info(msg string, args ...any)  { r.add(msg, args) }
func (r *recordingLogger) Warn(msg string, args ...any)  { r.add(msg, args) }
func (r *recordingLogger) Error(msg string, args ...any) { r.add(msg, args) }
func (r *recordingLogger) add(msg string, args []any) {
	r.entries = append(r.entries, append([]any{msg}, args...))
}

func TestWith(t *testing.T) {
	rec := &recordingLogger{}

	scoped := With(With(rec, "workflow", "wf"), "agent", "a1")
	scoped.Info("agent.loop.start", "iteration", 1)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, []any{"agent.loop.start", "workflow", "wf", "agent", "a1", "iteration", 1}, rec.entries[0])

	assert.Equal(t, NoOpLogger{}, With(nil, "k", "v"))
	assert.Equal(t, NoOpLogger{}, With(NoOpLogger{}, "k", "v"))

	var buf bytes.Buffer
	With(NewLogger(&LoggerConfig{Output: &buf}), "agent", "a2").Info("evt")
	assert.Contains(t, buf.String(), `"agent":"a2"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("bogus"))
	assert.Equal(t, "WARN", LogLevelWarn.String())
}

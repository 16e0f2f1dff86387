package agentswarm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/checkpoint"
	"github.com/hupe1980/agentswarm/config"
	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/workflow"
)

func parse(t *testing.T, yaml string) *config.File {
	t.Helper()

	cfg, err := config.Parse(".yaml", []byte(yaml))
	require.NoError(t, err)

	return cfg
}

func TestSwarm_ConcurrentMockAgents(t *testing.T) {
	cfg := parse(t, `
workflow:
  name: team
agents:
  - name: alpha
    model:
      provider: mock
      responses: ["alpha says hi"]
  - name: beta
    model:
      provider: mock
`)

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.Len(t, s.Agents(), 2)
	assert.IsType(t, &workflow.Concurrent{}, s.Workflow())

	results, err := s.Run(context.Background(), "greet")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "alpha", results[0].AgentName)
	assert.Equal(t, "alpha says hi", results[0].Output)
	assert.Equal(t, "Mock response to: greet", results[1].Output)
	assert.Equal(t, agent.StateLoopLimitReached, results[1].State)
}

func TestSwarm_SequentialWithFactory(t *testing.T) {
	cfg := parse(t, `
workflow:
  name: pipeline
  mode: sequential
agents:
  - name: first
  - name: second
`)

	var seen []string

	s, err := New(context.Background(), cfg, func(o *Options) {
		o.ModelFactory = func(ac config.AgentConfig, _ agent.Config) (model.Model, error) {
			seen = append(seen, ac.Model.Provider)
			return model.NewMockModel(ac.Name, "mock").AddResponse(ac.Name + " done"), nil
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, []string{config.ProviderOpenAI, config.ProviderOpenAI}, seen)
	assert.IsType(t, &workflow.Sequential{}, s.Workflow())

	results, err := s.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, "second done", results[1].Output)
}

func TestSwarm_FactoryErrorStopsConstruction(t *testing.T) {
	cfg := parse(t, "agents:\n  - name: a\n")

	_, err := New(context.Background(), cfg, func(o *Options) {
		o.ModelFactory = func(config.AgentConfig, agent.Config) (model.Model, error) {
			return nil, errors.New("no credentials")
		}
	})
	assert.ErrorContains(t, err, `agent "a": no credentials`)

	_, err = New(context.Background(), nil)
	assert.Error(t, err)
}

func TestSwarm_ToolServerFailure(t *testing.T) {
	cfg := parse(t, `
tool_servers:
  broken:
    command: /nonexistent/tool-server
agents:
  - name: ok
    model:
      provider: mock
  - name: needs-tools
    model:
      provider: mock
    tool_servers: [broken]
`)

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, `tool server "broken"`)
}

func TestSwarm_ResumeFromCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	cfg := parse(t, `
agents:
  - name: worker
    max_loops: 3
    autosave: true
    model:
      provider: mock
      responses: ["one", "two", "three"]
`)

	s, err := New(context.Background(), cfg, func(o *Options) {
		o.CheckpointStore = store
		o.Clock = func() time.Time { return time.Unix(0, 0) }
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok := s.Agent("worker")
	require.True(t, ok)

	cp := &checkpoint.Checkpoint{
		AgentName: "worker",
		Task:      "count",
		Iteration: 2,
		State:     agent.StateAwaitingModel.String(),
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "count", Name: "User"},
			{Role: core.RoleAssistant, Content: "1"},
			{Role: core.RoleAssistant, Content: "2"},
		},
	}

	res, err := s.Resume(context.Background(), "worker", cp)
	require.NoError(t, err)
	assert.Equal(t, "one", res.Output)
	assert.Equal(t, 3, res.Iterations)
	assert.NotEmpty(t, store.History())

	_, err = s.Resume(context.Background(), "ghost", cp)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestSwarm_ResumeFile(t *testing.T) {
	dir := t.TempDir()
	fs := checkpoint.NewFileStore(dir)

	require.NoError(t, fs.Save(context.Background(), &checkpoint.Checkpoint{
		AgentName: "worker",
		Task:      "finish",
		Iteration: 1,
		State:     agent.StateStopConditionMet.String(),
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "finish"},
			{Role: core.RoleAssistant, Content: "all done"},
		},
	}))

	s, err := New(context.Background(), parse(t, "agents:\n  - name: worker\n    model:\n      provider: mock\n"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	res, err := s.ResumeFile(context.Background(), "worker", fs.Path("worker", "finish"))
	require.NoError(t, err)
	assert.Equal(t, "all done", res.Output)
	assert.Equal(t, agent.StateStopConditionMet, res.State)

	_, err = s.ResumeFile(context.Background(), "worker", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestSwarm_SQLiteCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoints.db")

	cfg := parse(t, `
checkpoints:
  store: sqlite
  path: `+path+`
agents:
  - name: worker
    max_loops: 1
    autosave: true
    model:
      provider: mock
      responses: ["first"]
`)

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	results, err := s.Run(context.Background(), "draft")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	res, err := s.ResumeTask(context.Background(), "worker", "draft")
	require.NoError(t, err)
	assert.Equal(t, "first", res.Output)
	assert.Equal(t, agent.StateLoopLimitReached, res.State)

	_, err = s.ResumeTask(context.Background(), "worker", "unknown task")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	_, err = s.ResumeTask(context.Background(), "ghost", "draft")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	db, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cp, err := db.Latest(context.Background(), "worker")
	require.NoError(t, err)
	assert.Equal(t, "draft", cp.Task)
	assert.Equal(t, 1, cp.Iteration)
}

func TestNewModel_Providers(t *testing.T) {
	cfg, err := agent.NewConfig()
	require.NoError(t, err)

	for _, p := range []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderMock} {
		m, err := NewModel(config.AgentConfig{Model: config.ModelConfig{Provider: p, APIKey: "k"}}, cfg)
		require.NoError(t, err, p)
		assert.NotNil(t, m, p)
	}

	_, err = NewModel(config.AgentConfig{Model: config.ModelConfig{Provider: "gemini"}}, cfg)
	assert.Error(t, err)
}

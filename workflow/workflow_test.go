package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	name  string
	delay time.Duration
	fn    func(ctx context.Context, task string) (*agent.Result, error)
}

func (s *stubRunner) Name() string { return s.name }

func (s *stubRunner) ID() string { return s.name + "-id" }

func (s *stubRunner) Run(ctx context.Context, task string) (*agent.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.fn != nil {
		return s.fn(ctx, task)
	}

	return &agent.Result{Output: s.name + ": " + task, State: agent.StateLoopLimitReached}, nil
}

func failing(name string, err error) *stubRunner {
	return &stubRunner{name: name, fn: func(context.Context, string) (*agent.Result, error) { return nil, err }}
}

func TestConcurrent_PreservesConfigurationOrder(t *testing.T) {
	boom := errors.New("provider down")

	wf := NewConcurrent("swarm", "test swarm", []Runner{
		&stubRunner{name: "A", delay: 60 * time.Millisecond},
		failing("B", boom),
		&stubRunner{name: "C", delay: 20 * time.Millisecond},
	})

	results, err := wf.Run(context.Background(), "task")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "A", results[0].AgentName)
	assert.Equal(t, "A: task", results[0].Output)
	assert.True(t, results[0].Succeeded())

	assert.Equal(t, "B", results[1].AgentName)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, agent.StateFailed, results[1].State)
	assert.False(t, results[1].Succeeded())

	assert.Equal(t, "C", results[2].AgentName)
	assert.Equal(t, "C: task", results[2].Output)
	assert.Equal(t, "C-id", results[2].AgentID)

	for _, r := range results {
		assert.False(t, r.End.Before(r.Start))
	}
}

func TestConcurrent_RunsAgentsAtTheSameTime(t *testing.T) {
	const n = 4

	var started atomic.Int32

	allStarted := make(chan struct{})

	runners := make([]Runner, n)
	for i := range runners {
		runners[i] = &stubRunner{name: string(rune('A' + i)), fn: func(ctx context.Context, task string) (*agent.Result, error) {
			if started.Add(1) == n {
				close(allStarted)
			}

			select {
			case <-allStarted:
				return &agent.Result{Output: task, State: agent.StateStopConditionMet}, nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("siblings did not start concurrently")
			}
		}}
	}

	results, err := NewConcurrent("swarm", "", runners).Run(context.Background(), "task")
	require.NoError(t, err)

	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestConcurrent_MaxConcurrency(t *testing.T) {
	var active, peak atomic.Int32

	runner := func(name string) Runner {
		return &stubRunner{name: name, fn: func(context.Context, string) (*agent.Result, error) {
			n := active.Add(1)
			defer active.Add(-1)

			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			time.Sleep(10 * time.Millisecond)

			return &agent.Result{State: agent.StateLoopLimitReached}, nil
		}}
	}

	wf := NewConcurrent("swarm", "", []Runner{runner("A"), runner("B"), runner("C")}, func(o *Options) {
		o.MaxConcurrency = 1
	})

	_, err := wf.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
}

func TestConcurrent_Guards(t *testing.T) {
	_, err := NewConcurrent("swarm", "", nil).Run(context.Background(), "task")
	assert.ErrorIs(t, err, ErrEmptyTaskOrAgents)

	wf := NewConcurrent("swarm", "", []Runner{&stubRunner{name: "A"}})

	_, err = wf.Run(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyTaskOrAgents)

	_, err = wf.Run(context.Background(), "task")
	require.NoError(t, err)

	_, err = wf.Run(context.Background(), "task")
	assert.ErrorIs(t, err, ErrTaskAlreadyExists)
}

func TestConcurrent_RecoversPanics(t *testing.T) {
	wf := NewConcurrent("swarm", "", []Runner{
		&stubRunner{name: "A", fn: func(context.Context, string) (*agent.Result, error) { panic("kaboom") }},
		&stubRunner{name: "B", fn: func(context.Context, string) (*agent.Result, error) { return nil, nil }},
		&stubRunner{name: "C"},
	})

	results, err := wf.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.ErrorContains(t, results[0].Err, "kaboom")
	assert.ErrorContains(t, results[1].Err, "no result")
	assert.NoError(t, results[2].Err)
}

func TestConcurrent_WritesMetadata(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	clockBase := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	var ticks atomic.Int64

	wf := NewConcurrent("swarm", "research swarm", []Runner{&stubRunner{name: "A"}, failing("B", errors.New("bad"))}, func(o *Options) {
		o.MetadataDir = dir
		o.Clock = func() time.Time { return clockBase.Add(time.Duration(ticks.Add(1)) * time.Second) }
	})

	_, err := wf.Run(context.Background(), "investigate")
	require.NoError(t, err)

	path := wf.MetadataPath("investigate")
	assert.True(t, strings.HasPrefix(filepath.Base(path), "swarm_"))

	md, err := ReadMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, wf.ID(), md.WorkflowID)
	assert.Equal(t, "swarm", md.Name)
	assert.Equal(t, "research swarm", md.Description)
	assert.Equal(t, "investigate", md.Task)
	require.Len(t, md.Agents, 2)

	assert.Equal(t, "A", md.Agents[0].AgentName)
	assert.Equal(t, agent.StateLoopLimitReached.String(), md.Agents[0].State)
	assert.Equal(t, "A: investigate", md.Agents[0].Output)
	assert.Positive(t, md.Agents[0].DurationMS)

	assert.Equal(t, agent.StateFailed.String(), md.Agents[1].State)
	assert.Equal(t, "bad", md.Agents[1].Error)
}

func TestConcurrent_MetadataFailureIsNotFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	wf := NewConcurrent("swarm", "", []Runner{&stubRunner{name: "A"}}, func(o *Options) {
		o.MetadataDir = filepath.Join(blocker, "runs")
	})

	results, err := wf.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestConcurrent_RunBatch(t *testing.T) {
	wf := NewConcurrent("swarm", "", []Runner{&stubRunner{name: "A"}, &stubRunner{name: "B"}})

	batch := wf.RunBatch(context.Background(), []string{"one", "two", "one", ""})
	require.Len(t, batch, 4)

	assert.Equal(t, "two", batch[1].Task)
	require.NoError(t, batch[1].Err)
	assert.Equal(t, "B: two", batch[1].Results[1].Output)

	// Exactly one of the duplicate tasks wins.
	dupErrs := 0
	for _, i := range []int{0, 2} {
		if errors.Is(batch[i].Err, ErrTaskAlreadyExists) {
			dupErrs++
		}
	}

	assert.Equal(t, 1, dupErrs)
	assert.ErrorIs(t, batch[3].Err, ErrEmptyTaskOrAgents)
}

func TestConcurrent_WithAgents(t *testing.T) {
	build := func(name string, m model.Model) *agent.Agent {
		cfg, err := agent.NewConfig(func(c *agent.Config) {
			c.Name = name
			c.RetryAttempts = 0
			c.StopPhrases = []string{"<DONE>"}
			c.MaxLoops = 2
		})
		require.NoError(t, err)

		a, err := agent.New(cfg, m)
		require.NoError(t, err)

		return a
	}

	writer := build("writer", model.NewMockModel("m", "mock").AddResponse("draft").AddResponse("final <DONE>"))
	broken := build("broken", model.NewMockModel("m", "mock").AddError(model.MarkPermanent(errors.New("unauthorized"))))

	results, err := NewConcurrent("team", "", []Runner{writer, broken}).Run(context.Background(), "write")
	require.NoError(t, err)

	assert.Equal(t, "final <DONE>", results[0].Output)
	assert.Equal(t, agent.StateStopConditionMet, results[0].State)
	assert.ErrorIs(t, results[1].Err, agent.ErrProvider)
	assert.Equal(t, writer.ID(), results[0].AgentID)
}

func TestSequential_PipesOutputs(t *testing.T) {
	upper := &stubRunner{name: "upper", fn: func(_ context.Context, task string) (*agent.Result, error) {
		return &agent.Result{Output: strings.ToUpper(task), State: agent.StateLoopLimitReached}, nil
	}}
	exclaim := &stubRunner{name: "exclaim", fn: func(_ context.Context, task string) (*agent.Result, error) {
		return &agent.Result{Output: task + "!", State: agent.StateStopConditionMet}, nil
	}}

	dir := t.TempDir()

	results, err := NewSequential("pipeline", "", []Runner{upper, exclaim}, func(o *Options) { o.MetadataDir = dir }).
		Run(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "HELLO", results[0].Output)
	assert.Equal(t, "HELLO!", results[1].Output)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSequential_StopsAtFailure(t *testing.T) {
	called := false
	last := &stubRunner{name: "last", fn: func(context.Context, string) (*agent.Result, error) {
		called = true
		return &agent.Result{}, nil
	}}

	results, err := NewSequential("pipeline", "", []Runner{&stubRunner{name: "first"}, failing("middle", errors.New("nope")), last}).
		Run(context.Background(), "task")
	require.NoError(t, err)

	assert.False(t, called)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "nope")
	assert.ErrorIs(t, results[2].Err, ErrSkipped)

	_, err = NewSequential("pipeline", "", nil).Run(context.Background(), "task")
	assert.ErrorIs(t, err, ErrEmptyTaskOrAgents)
}

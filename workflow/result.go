package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/logging"
)

var (
	// ErrEmptyTaskOrAgents is returned when a workflow is run with an empty
	// task or without agents.
	ErrEmptyTaskOrAgents = errors.New("task or agents are empty")
	// ErrTaskAlreadyExists is returned when a workflow is asked to run a task
	// it has already run.
	ErrTaskAlreadyExists = errors.New("task already exists")
	// ErrSkipped marks pipeline stages that did not run because an earlier
	// stage failed.
	ErrSkipped = errors.New("skipped after earlier failure")
)

const failedState = agent.StateFailed

// Runner is an agent a workflow can drive. *agent.Agent implements it.
type Runner interface {
	Name() string
	ID() string
	Run(ctx context.Context, task string) (*agent.Result, error)
}

// Result is the outcome of one agent within a workflow run.
type Result struct {
	AgentName string
	AgentID   string
	Output    string
	State     agent.LoopState
	Err       error
	Start     time.Time
	End       time.Time
}

// Duration returns the wall time of the run.
func (r Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Succeeded reports whether the agent reached a successful terminal state.
func (r Result) Succeeded() bool { return r.Err == nil && r.State.Succeeded() }

// runAgent executes one runner and never panics.
func runAgent(ctx context.Context, r Runner, task string, clock func() time.Time, logger logging.Logger) (res Result) {
	res = Result{AgentName: r.Name(), AgentID: r.ID(), Start: clock()}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("workflow.agent.panic", "agent", res.AgentName, "recover", rec, "stack", string(debug.Stack()))
			res.Err = fmt.Errorf("agent %s panicked: %v", res.AgentName, rec)
			res.State = agent.StateFailed
		}

		res.End = clock()
	}()

	out, err := r.Run(ctx, task)

	switch {
	case err != nil:
		res.Err = err
		res.State = agent.StateFailed
	case out == nil:
		res.Err = fmt.Errorf("agent %s returned no result", res.AgentName)
		res.State = agent.StateFailed
	default:
		res.Output = out.Output
		res.State = out.State
	}

	return res
}

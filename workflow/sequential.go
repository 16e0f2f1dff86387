package workflow

import (
	"context"
	"strings"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
)

// Sequential is a pipeline: the first agent receives the task, every further
// agent receives the output of its predecessor.
type Sequential struct {
	id          string
	name        string
	description string
	agents      []Runner
	opts        Options
	logger      logging.Logger
}

// NewSequential creates a pipeline over agents in the given order.
func NewSequential(name, description string, agents []Runner, optFns ...func(o *Options)) *Sequential {
	opts := defaultOptions(optFns)
	id := core.NewID()

	return &Sequential{
		id:          id,
		name:        name,
		description: description,
		agents:      append([]Runner(nil), agents...),
		opts:        opts,
		logger:      logging.With(opts.Logger, "workflow", name, "workflow_id", id),
	}
}

// Run executes the pipeline. It stops at the first failing stage; later
// stages are reported with ErrSkipped. The final output is the Output of the
// last entry when every stage succeeded.
func (w *Sequential) Run(ctx context.Context, task string) ([]Result, error) {
	if strings.TrimSpace(task) == "" || len(w.agents) == 0 {
		return nil, ErrEmptyTaskOrAgents
	}

	ts := w.opts.Clock()
	results := make([]Result, 0, len(w.agents))
	input := task
	failed := false

	for i, r := range w.agents {
		if failed {
			now := w.opts.Clock()
			results = append(results, Result{AgentName: r.Name(), AgentID: r.ID(), State: failedState, Err: ErrSkipped, Start: now, End: now})

			continue
		}

		res := runAgent(ctx, r, input, w.opts.Clock, w.logger)
		results = append(results, res)

		if res.Err != nil {
			w.logger.Warn("workflow.stage.failed", "stage", i, "agent", res.AgentName, "error", res.Err.Error())
			failed = true

			continue
		}

		w.logger.Debug("workflow.stage.done", "stage", i, "agent", res.AgentName, "duration_ms", res.Duration().Milliseconds())
		input = res.Output
	}

	if path := w.metadataPath(task); path != "" {
		if err := writeMetadata(path, newMetadata(w.id, w.name, w.description, task, ts, results)); err != nil {
			w.logger.Warn("workflow.metadata.write_failed", "path", path, "error", err.Error())
		}
	}

	w.logger.Info("workflow.run.complete", "stages", len(results), "failed", failed, "duration_ms", w.opts.Clock().Sub(ts).Milliseconds())

	return results, nil
}

func (w *Sequential) metadataPath(task string) string {
	if w.opts.MetadataDir == "" {
		return ""
	}

	return metadataPath(w.opts.MetadataDir, w.name, task)
}

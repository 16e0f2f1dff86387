package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Options configures a workflow.
type Options struct {
	// MetadataDir receives one JSON record per run. Empty disables persistence.
	MetadataDir string
	Logger      logging.Logger
	// Clock stamps results and metadata. Defaults to time.Now.
	Clock func() time.Time
	// MaxConcurrency bounds the agents running at once. 0 runs all at once.
	MaxConcurrency int
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// Concurrent runs every agent on the same task at the same time.
type Concurrent struct {
	id          string
	name        string
	description string
	agents      []Runner
	opts        Options
	logger      logging.Logger

	mu    sync.Mutex
	tasks map[string]struct{}
}

// NewConcurrent creates a concurrent workflow over agents. The agent slice is
// copied; its order defines the order of results.
func NewConcurrent(name, description string, agents []Runner, optFns ...func(o *Options)) *Concurrent {
	opts := defaultOptions(optFns)
	id := core.NewID()

	return &Concurrent{
		id:          id,
		name:        name,
		description: description,
		agents:      append([]Runner(nil), agents...),
		opts:        opts,
		logger:      logging.With(opts.Logger, "workflow", name, "workflow_id", id),
		tasks:       make(map[string]struct{}),
	}
}

// ID returns the workflow identifier.
func (w *Concurrent) ID() string { return w.id }

// Name returns the workflow name.
func (w *Concurrent) Name() string { return w.name }

// Description returns the workflow description.
func (w *Concurrent) Description() string { return w.description }

// Agents returns the configured agents in order.
func (w *Concurrent) Agents() []Runner { return append([]Runner(nil), w.agents...) }

// MetadataPath returns where the record of task is written, or "" when
// persistence is disabled.
func (w *Concurrent) MetadataPath(task string) string {
	if w.opts.MetadataDir == "" {
		return ""
	}

	return metadataPath(w.opts.MetadataDir, w.name, task)
}

// Run executes task on every agent concurrently and waits for all of them.
// The returned slice has one entry per agent in configuration order; agent
// failures are reported in the entries, never as the returned error.
func (w *Concurrent) Run(ctx context.Context, task string) ([]Result, error) {
	if strings.TrimSpace(task) == "" || len(w.agents) == 0 {
		return nil, ErrEmptyTaskOrAgents
	}

	if err := w.reserve(task); err != nil {
		return nil, err
	}

	ts := w.opts.Clock()

	w.logger.Info("workflow.run.start", "agents", len(w.agents))

	results := w.fanOut(ctx, task)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	w.logger.Info("workflow.run.complete", "agents", len(results), "failed", failed, "duration_ms", w.opts.Clock().Sub(ts).Milliseconds())

	if path := w.MetadataPath(task); path != "" {
		md := newMetadata(w.id, w.name, w.description, task, ts, results)
		if err := writeMetadata(path, md); err != nil {
			w.logger.Warn("workflow.metadata.write_failed", "path", path, "error", err.Error())
		} else {
			w.logger.Debug("workflow.metadata.written", "path", path)
		}
	}

	return results, nil
}

func (w *Concurrent) reserve(task string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tasks[task]; exists {
		return ErrTaskAlreadyExists
	}

	w.tasks[task] = struct{}{}

	return nil
}

func (w *Concurrent) fanOut(ctx context.Context, task string) []Result {
	results := make([]Result, len(w.agents))

	var sem *semaphore.Weighted
	if w.opts.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(w.opts.MaxConcurrency))
	}

	// A plain group: one failing agent never cancels its siblings.
	var g errgroup.Group

	for i, r := range w.agents {
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					now := w.opts.Clock()
					results[i] = Result{AgentName: r.Name(), AgentID: r.ID(), Err: err, State: failedState, Start: now, End: now}

					return nil
				}
				defer sem.Release(1)
			}

			res := runAgent(ctx, r, task, w.opts.Clock, w.logger)
			results[i] = res

			if res.Err != nil {
				w.logger.Warn("workflow.agent.failed", "agent", res.AgentName, "error", res.Err.Error())
			} else {
				w.logger.Info("workflow.agent.done", "agent", res.AgentName, "state", res.State.String(), "duration_ms", res.Duration().Milliseconds())
			}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// BatchResult holds the results of one task of RunBatch.
type BatchResult struct {
	Task    string
	Results []Result
	Err     error
}

// RunBatch runs several tasks concurrently, each as a separate Run. Results
// are returned in input order.
func (w *Concurrent) RunBatch(ctx context.Context, tasks []string) []BatchResult {
	out := make([]BatchResult, len(tasks))

	var g errgroup.Group

	for i, task := range tasks {
		g.Go(func() error {
			results, err := w.Run(ctx, task)
			out[i] = BatchResult{Task: task, Results: results, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	return out
}

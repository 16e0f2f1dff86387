package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentswarm/checkpoint"
	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/memory"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/tool"
	"golang.org/x/sync/errgroup"
)

// Options configures the collaborators of an Agent.
type Options struct {
	Logger logging.Logger
	// Registry holds the agent's tools. A new empty registry is created when nil.
	Registry *tool.Registry
	// CheckpointStore receives autosaved checkpoints. When nil and autosave is
	// enabled, a checkpoint.FileStore rooted at Config.CheckpointDir is used.
	CheckpointStore checkpoint.Store
	// Clock stamps checkpoints. Defaults to time.Now.
	Clock func() time.Time
}

// Agent binds a configuration, a model and a tool registry.
//
// An Agent is safe for concurrent use: every Run owns its own conversation
// and loop state. Tools in the shared registry must tolerate concurrent calls.
type Agent struct {
	cfg      Config
	model    model.Model
	registry *tool.Registry
	store    checkpoint.Store
	logger   logging.Logger
	clock    func() time.Time
}

// Result is the successful outcome of a run.
type Result struct {
	Output string
	State  LoopState
	// Iterations is the number of completed loop iterations.
	Iterations int
	// ModelCalls counts every gateway call including planning and retries.
	ModelCalls int
	Messages   []core.Message
}

// New creates an agent. cfg must satisfy Config.Validate.
func New(cfg Config, m model.Model, optFns ...func(o *Options)) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if m == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}

	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if cfg.ID == "" {
		cfg.ID = core.NewID()
	}

	logger := logging.With(opts.Logger, "agent", cfg.Name, "agent_id", cfg.ID)

	registry := opts.Registry
	if registry == nil {
		registry = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
	}

	if cfg.TaskEvaluator {
		if _, exists := registry.Get(tool.TaskEvaluatorName); !exists {
			if err := registry.Register(tool.NewTaskEvaluator()); err != nil {
				return nil, err
			}
		}
	}

	store := opts.CheckpointStore
	if cfg.Autosave && store == nil {
		if cfg.CheckpointDir == "" {
			return nil, fmt.Errorf("%w: autosave requires a checkpoint directory or store", ErrInvalidConfig)
		}

		store = checkpoint.NewFileStore(cfg.CheckpointDir)
	}

	return &Agent{
		cfg:      cfg.clone(),
		model:    m,
		registry: registry,
		store:    store,
		logger:   logger,
		clock:    opts.Clock,
	}, nil
}

// Name returns the configured agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.cfg.ID }

// Description returns the configured description.
func (a *Agent) Description() string { return a.cfg.Description }

// Config returns a copy of the configuration.
func (a *Agent) Config() Config { return a.cfg.clone() }

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// Run executes task from a fresh conversation.
//
// Reaching MaxLoops is a successful outcome (StateLoopLimitReached). A model
// failure beyond the retry budget returns a *RunError wrapping ErrProvider.
func (a *Agent) Run(ctx context.Context, task string) (*Result, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrEmptyTask
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	r := a.newRun(task, a.seed(task))

	r.logger.Info("agent.run.start", "max_loops", a.cfg.MaxLoops, "tools", a.registry.Len())

	if a.cfg.PlanningTemplate != "" {
		if err := r.plan(ctx); err != nil {
			return nil, r.fail(ctx, 0, err)
		}
	}

	return r.loop(ctx, 1)
}

// Resume continues a run from cp. The first model call receives exactly
// cp.Messages and the loop continues with iteration cp.Iteration+1 under the
// same MaxLoops budget.
func (a *Agent) Resume(ctx context.Context, cp *checkpoint.Checkpoint) (*Result, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	if cp.AgentName != a.cfg.Name {
		return nil, fmt.Errorf("%w: checkpoint of %q, agent %q", ErrCheckpointMismatch, cp.AgentName, a.cfg.Name)
	}

	state := StateAwaitingModel
	if cp.State != "" {
		parsed, err := ParseLoopState(cp.State)
		if err != nil {
			return nil, err
		}

		state = parsed
	}

	r := a.newRun(cp.Task, memory.NewConversation(cp.Messages...))
	r.completed = cp.Iteration

	switch {
	case state == StateStopConditionMet:
		r.setState(StateStopConditionMet)
		return r.result(lastAssistantText(r.conv)), nil
	case cp.Iteration >= a.cfg.MaxLoops:
		r.setState(StateLoopLimitReached)
		last, _ := r.conv.LastAssistant()

		return r.result(last.Content), nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	r.logger.Info("agent.run.resume", "iteration", cp.Iteration, "state", state.String(), "messages", len(cp.Messages))

	return r.loop(ctx, cp.Iteration+1)
}

// LoadCheckpoint returns the stored checkpoint of task for this agent.
func (a *Agent) LoadCheckpoint(ctx context.Context, task string) (*checkpoint.Checkpoint, error) {
	if a.store == nil {
		return nil, fmt.Errorf("%w: no checkpoint store configured", checkpoint.ErrNotFound)
	}

	return a.store.Load(ctx, a.cfg.Name, task)
}

// TaskResult is the outcome of one task of RunTasks.
type TaskResult struct {
	Task   string
	Result *Result
	Err    error
}

// RunTasks runs several tasks concurrently, each in its own conversation.
// Results are returned in input order; a failing task does not cancel others.
func (a *Agent) RunTasks(ctx context.Context, tasks []string) []TaskResult {
	results := make([]TaskResult, len(tasks))

	var g errgroup.Group

	for i, task := range tasks {
		g.Go(func() error {
			res, err := a.Run(ctx, task)
			results[i] = TaskResult{Task: task, Result: res, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// Close releases every resource attached to the registry (tool server
// processes and streams).
func (a *Agent) Close() error {
	return a.registry.Close()
}

func (a *Agent) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout)
	}

	return context.WithCancel(ctx)
}

func (a *Agent) seed(task string) *memory.Conversation {
	conv := memory.NewConversation()

	if a.cfg.SystemPrompt != "" {
		conv.Append(core.NewSystemMessage(a.cfg.SystemPrompt))
	}

	user := core.NewUserMessage(task)
	user.Name = a.cfg.UserName
	conv.Append(user)

	return conv
}

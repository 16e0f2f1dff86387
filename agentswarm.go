// Package agentswarm assembles agents, their tool servers and a workflow from
// a config.File. Most applications:
//  1. Load a workflow file with config.Load
//  2. Build a Swarm with New, which connects every referenced tool server
//  3. Call Run (or Resume for a single agent) and Close when done
//
// The lower level packages (agent, workflow, tool, checkpoint) remain usable
// on their own; Swarm only wires them together.
package agentswarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/checkpoint"
	"github.com/hupe1980/agentswarm/config"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/model/anthropic"
	"github.com/hupe1980/agentswarm/model/openai"
	"github.com/hupe1980/agentswarm/tool"
	"github.com/hupe1980/agentswarm/tool/mcp"
	"github.com/hupe1980/agentswarm/workflow"
)

// ErrUnknownAgent is returned for agent names not present in the swarm.
var ErrUnknownAgent = errors.New("unknown agent")

// ModelFactory creates the model behind one configured agent.
type ModelFactory func(ac config.AgentConfig, cfg agent.Config) (model.Model, error)

// Options configures a Swarm.
type Options struct {
	// Logger defaults to a NoOp logger.
	Logger logging.Logger
	// ModelFactory defaults to NewModel.
	ModelFactory ModelFactory
	// CheckpointStore, when set, replaces the per-agent file stores.
	CheckpointStore checkpoint.Store
	// Clock stamps checkpoints and workflow results. Defaults to time.Now.
	Clock func() time.Time
}

// Workflow is the run surface shared by workflow.Concurrent and workflow.Sequential.
type Workflow interface {
	Run(ctx context.Context, task string) ([]workflow.Result, error)
}

// Swarm is a set of configured agents bound to one workflow.
type Swarm struct {
	opts     Options
	agents   []*agent.Agent
	byName   map[string]*agent.Agent
	workflow Workflow
	logger   logging.Logger
	// db is the shared checkpoint database when checkpoints.store is sqlite.
	db *checkpoint.SQLiteStore
}

// New builds every agent of cfg in order, connects the tool servers each
// agent references and creates the configured workflow. Every agent owns its
// tool server connections. On failure, connections made so far are closed.
func New(ctx context.Context, cfg *config.File, optFns ...func(o *Options)) (*Swarm, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	opts := Options{
		Logger:       logging.NoOpLogger{},
		ModelFactory: NewModel,
		Clock:        time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Swarm{
		opts:   opts,
		byName: make(map[string]*agent.Agent, len(cfg.Agents)),
		logger: logging.With(opts.Logger, "swarm", cfg.Workflow.Name),
	}

	if opts.CheckpointStore == nil && cfg.Checkpoints.Store == config.CheckpointStoreSQLite {
		db, err := checkpoint.NewSQLiteStore(cfg.Checkpoints.Path)
		if err != nil {
			return nil, fmt.Errorf("checkpoint store: %w", err)
		}

		s.db = db
		s.opts.CheckpointStore = db
	}

	for _, ac := range cfg.Agents {
		a, err := s.buildAgent(ctx, cfg, ac)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("agent %q: %w", ac.Name, err)
		}

		s.agents = append(s.agents, a)
		s.byName[a.Name()] = a
	}

	runners := make([]workflow.Runner, len(s.agents))
	for i, a := range s.agents {
		runners[i] = a
	}

	wfOpts := func(o *workflow.Options) {
		o.MetadataDir = cfg.Workflow.MetadataDir
		o.MaxConcurrency = cfg.Workflow.MaxConcurrency
		o.Logger = opts.Logger
		o.Clock = opts.Clock
	}

	if cfg.Workflow.Mode == config.ModeSequential {
		s.workflow = workflow.NewSequential(cfg.Workflow.Name, cfg.Workflow.Description, runners, wfOpts)
	} else {
		s.workflow = workflow.NewConcurrent(cfg.Workflow.Name, cfg.Workflow.Description, runners, wfOpts)
	}

	s.logger.Info("swarm.ready", "agents", len(s.agents), "mode", cfg.Workflow.Mode)

	return s, nil
}

func (s *Swarm) buildAgent(ctx context.Context, cfg *config.File, ac config.AgentConfig) (*agent.Agent, error) {
	agentCfg, err := ac.AgentConfig()
	if err != nil {
		return nil, err
	}

	m, err := s.opts.ModelFactory(ac, agentCfg)
	if err != nil {
		return nil, err
	}

	logger := logging.With(s.opts.Logger, "agent", agentCfg.Name)
	reg := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })

	for _, ref := range ac.ToolServers {
		if err := connectToolServer(ctx, reg, ref, cfg.ToolServers[ref], logger); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}

	// An explicit or shared store also backs LoadCheckpoint for agents
	// that do not autosave.
	store := s.opts.CheckpointStore
	if store == nil && agentCfg.Autosave && agentCfg.CheckpointDir != "" {
		store = checkpoint.NewFileStore(agentCfg.CheckpointDir, func(o *checkpoint.FileStoreOptions) {
			o.Compress = ac.CompressCheckpoints
		})
	}

	a, err := agent.New(agentCfg, m, func(o *agent.Options) {
		o.Logger = s.opts.Logger
		o.Registry = reg
		o.CheckpointStore = store
		o.Clock = s.opts.Clock
	})
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	return a, nil
}

func connectToolServer(ctx context.Context, reg *tool.Registry, name string, srv config.ToolServerConfig, logger logging.Logger) error {
	attach := func(o *mcp.AttachOptions) {
		o.Prefix = srv.Prefix
		o.Filter = func(info mcp.ToolInfo) bool { return srv.Allows(info.Name) }
	}

	var (
		names []string
		err   error
	)

	switch srv.Transport {
	case config.TransportSSE:
		names, err = mcp.ConnectSSE(ctx, reg, srv.URL, mcp.SSEOptions{
			Headers: srv.Headers,
			Logger:  logger,
		}, attach)
	default:
		names, err = mcp.ConnectStdio(ctx, reg, srv.Command, mcp.StdioOptions{
			Args:   srv.Args,
			Env:    srv.Environ(),
			Dir:    srv.Dir,
			Logger: logger,
		}, attach)
	}

	if err != nil {
		return fmt.Errorf("tool server %q: %w", name, err)
	}

	logger.Debug("swarm.tool_server.attached", "server", name, "tools", names)

	return nil
}

// NewModel is the default ModelFactory. Temperature and token limits come
// from the agent configuration.
func NewModel(ac config.AgentConfig, cfg agent.Config) (model.Model, error) {
	mc := ac.Model

	switch mc.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if mc.Model != "" {
				o.Model = mc.Model
			}

			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Model != "" {
				o.Model = anthropicsdk.Model(mc.Model)
			}

			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
		}), nil
	case config.ProviderMock:
		name := mc.Model
		if name == "" {
			name = "mock"
		}

		m := model.NewMockModel(name, config.ProviderMock)
		for _, r := range mc.Responses {
			m.AddResponse(r)
		}

		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", mc.Provider)
	}
}

// Agents returns the agents in configuration order.
func (s *Swarm) Agents() []*agent.Agent { return append([]*agent.Agent(nil), s.agents...) }

// Agent returns the agent named name.
func (s *Swarm) Agent(name string) (*agent.Agent, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// Workflow returns the configured workflow.
func (s *Swarm) Workflow() Workflow { return s.workflow }

// Run executes the workflow on task.
func (s *Swarm) Run(ctx context.Context, task string) ([]workflow.Result, error) {
	return s.workflow.Run(ctx, task)
}

// Resume continues the named agent from cp.
func (s *Swarm) Resume(ctx context.Context, agentName string, cp *checkpoint.Checkpoint) (*agent.Result, error) {
	a, ok := s.byName[agentName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}

	return a.Resume(ctx, cp)
}

// ResumeFile loads a checkpoint file (plain or zstd) and resumes the named agent.
func (s *Swarm) ResumeFile(ctx context.Context, agentName, path string) (*agent.Result, error) {
	cp, err := checkpoint.LoadFile(path)
	if err != nil {
		return nil, err
	}

	return s.Resume(ctx, agentName, cp)
}

// ResumeTask resumes the named agent from the checkpoint its store holds
// for task.
func (s *Swarm) ResumeTask(ctx context.Context, agentName, task string) (*agent.Result, error) {
	a, ok := s.byName[agentName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}

	cp, err := a.LoadCheckpoint(ctx, task)
	if err != nil {
		return nil, err
	}

	return a.Resume(ctx, cp)
}

// Close releases every agent's tool server connections and the shared
// checkpoint database.
func (s *Swarm) Close() error {
	var errs []error

	for _, a := range s.agents {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", a.Name(), err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint store: %w", err))
		}

		s.db = nil
	}

	return errors.Join(errs...)
}

// Package config loads AgentSwarm workflow files.
//
// A workflow file describes the agents of a swarm, the models behind them,
// the remote tool servers they can reach and the logging setup. YAML and TOML
// are supported and selected by file extension. References of the form
// ${VAR} or ${VAR:-default} are expanded from the environment before parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/logging"
)

// Workflow modes.
const (
	ModeConcurrent = "concurrent"
	ModeSequential = "sequential"
)

// Tool server transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Checkpoint stores.
const (
	CheckpointStoreFile   = "file"
	CheckpointStoreSQLite = "sqlite"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// ErrUnsupportedFormat is returned by Load for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Duration is a time.Duration written as a Go duration string ("1m30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// File is the parsed content of a workflow file.
type File struct {
	Workflow    WorkflowConfig              `yaml:"workflow" toml:"workflow"`
	Logging     LoggingConfig               `yaml:"logging" toml:"logging"`
	Checkpoints CheckpointConfig            `yaml:"checkpoints" toml:"checkpoints"`
	ToolServers map[string]ToolServerConfig `yaml:"tool_servers" toml:"tool_servers"`
	Agents      []AgentConfig               `yaml:"agents" toml:"agents"`
}

// CheckpointConfig selects where autosaved checkpoints go. With the file
// store each agent writes to its own checkpoint_dir; with sqlite all agents
// share the database at Path.
type CheckpointConfig struct {
	Store string `yaml:"store" toml:"store"`
	Path  string `yaml:"path" toml:"path"`
}

// WorkflowConfig describes how the agents of a file are run together.
type WorkflowConfig struct {
	Name           string `yaml:"name" toml:"name"`
	Description    string `yaml:"description" toml:"description"`
	Mode           string `yaml:"mode" toml:"mode"`
	MetadataDir    string `yaml:"metadata_dir" toml:"metadata_dir"`
	MaxConcurrency int    `yaml:"max_concurrency" toml:"max_concurrency"`
}

// LoggingConfig mirrors logging.LoggerConfig.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	AddSource bool   `yaml:"add_source" toml:"add_source"`
	NoColor   bool   `yaml:"no_color" toml:"no_color"`
}

// LoggerConfig converts the section into a logging.LoggerConfig writing to stderr.
func (c LoggingConfig) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.ParseLevel(c.Level)
	cfg.AddSource = c.AddSource
	cfg.NoColor = c.NoColor

	if c.Format != "" {
		cfg.Format = c.Format
	}

	return cfg
}

// ToolServerConfig describes a remote tool server.
type ToolServerConfig struct {
	Transport string            `yaml:"transport" toml:"transport"`
	Command   string            `yaml:"command" toml:"command"`
	Args      []string          `yaml:"args" toml:"args"`
	Env       map[string]string `yaml:"env" toml:"env"`
	Dir       string            `yaml:"dir" toml:"dir"`
	URL       string            `yaml:"url" toml:"url"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`
	Prefix    string            `yaml:"prefix" toml:"prefix"`
	// Tools restricts registration to the named server tools when non-empty.
	Tools []string `yaml:"tools" toml:"tools"`
}

// Environ returns the child environment: the parent's plus Env. It returns
// nil when Env is empty so the child inherits the parent environment.
func (c ToolServerConfig) Environ() []string {
	if len(c.Env) == 0 {
		return nil
	}

	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}

	return env
}

// Allows reports whether the server tool name passes the Tools filter.
func (c ToolServerConfig) Allows(name string) bool {
	if len(c.Tools) == 0 {
		return true
	}

	for _, t := range c.Tools {
		if t == name {
			return true
		}
	}

	return false
}

// ModelConfig selects the provider behind an agent.
type ModelConfig struct {
	Provider string `yaml:"provider" toml:"provider"`
	Model    string `yaml:"model" toml:"model"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
	BaseURL  string `yaml:"base_url" toml:"base_url"`
	// Responses feeds the mock provider, one reply per call.
	Responses []string `yaml:"responses" toml:"responses"`
}

// AgentConfig is the file form of agent.Config. Unset fields keep the
// agent package defaults.
type AgentConfig struct {
	Name         string `yaml:"name" toml:"name"`
	ID           string `yaml:"id" toml:"id"`
	Description  string `yaml:"description" toml:"description"`
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
	UserName     string `yaml:"user_name" toml:"user_name"`

	MaxLoops       *int      `yaml:"max_loops" toml:"max_loops"`
	RetryAttempts  *int      `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryBaseDelay *Duration `yaml:"retry_base_delay" toml:"retry_base_delay"`
	RetryMaxDelay  *Duration `yaml:"retry_max_delay" toml:"retry_max_delay"`
	Temperature    *float64  `yaml:"temperature" toml:"temperature"`
	MaxTokens      *int64    `yaml:"max_tokens" toml:"max_tokens"`

	StopPhrases         []string `yaml:"stop_phrases" toml:"stop_phrases"`
	Autosave            bool     `yaml:"autosave" toml:"autosave"`
	CheckpointDir       string   `yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	CompressCheckpoints bool     `yaml:"compress_checkpoints" toml:"compress_checkpoints"`
	PlanningTemplate    string   `yaml:"planning_template" toml:"planning_template"`

	ConcurrentToolCalls *bool     `yaml:"concurrent_tool_calls" toml:"concurrent_tool_calls"`
	MaxParallelTools    int       `yaml:"max_parallel_tools" toml:"max_parallel_tools"`
	Timeout             *Duration `yaml:"timeout" toml:"timeout"`
	TaskEvaluator       bool      `yaml:"task_evaluator" toml:"task_evaluator"`

	Model       ModelConfig `yaml:"model" toml:"model"`
	ToolServers []string    `yaml:"tool_servers" toml:"tool_servers"`
}

// AgentConfig converts the entry into a validated agent.Config.
func (a AgentConfig) AgentConfig() (agent.Config, error) {
	return agent.NewConfig(func(c *agent.Config) {
		if a.Name != "" {
			c.Name = a.Name
		}

		if a.UserName != "" {
			c.UserName = a.UserName
		}

		c.ID = a.ID
		c.Description = a.Description
		c.SystemPrompt = a.SystemPrompt
		c.StopPhrases = a.StopPhrases
		c.Autosave = a.Autosave
		c.CheckpointDir = a.CheckpointDir
		c.PlanningTemplate = a.PlanningTemplate
		c.MaxParallelTools = a.MaxParallelTools
		c.TaskEvaluator = a.TaskEvaluator

		if a.MaxLoops != nil {
			c.MaxLoops = *a.MaxLoops
		}

		if a.RetryAttempts != nil {
			c.RetryAttempts = *a.RetryAttempts
		}

		if a.RetryBaseDelay != nil {
			c.RetryBaseDelay = a.RetryBaseDelay.Std()
		}

		if a.RetryMaxDelay != nil {
			c.RetryMaxDelay = a.RetryMaxDelay.Std()
		}

		if a.Temperature != nil {
			c.Temperature = *a.Temperature
		}

		if a.MaxTokens != nil {
			c.MaxTokens = *a.MaxTokens
		}

		if a.ConcurrentToolCalls != nil {
			c.ConcurrentToolCalls = *a.ConcurrentToolCalls
		}

		if a.Timeout != nil {
			c.Timeout = a.Timeout.Std()
		}
	})
}

// Load reads, expands, parses and validates the workflow file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes data in the format named by ext (".yaml", ".yml" or ".toml"),
// applies defaults and validates the result.
func Parse(ext string, data []byte) (*File, error) {
	expanded := expandEnvVars(string(data))

	var cfg File

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(expanded, &cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing toml: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} with the value of VAR and ${VAR:-def} with
// def when VAR is unset or empty.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}

		return parts[2]
	})
}

func (f *File) applyDefaults() {
	if f.Workflow.Name == "" {
		f.Workflow.Name = "swarm"
	}

	if f.Workflow.Mode == "" {
		f.Workflow.Mode = ModeConcurrent
	}

	if f.Checkpoints.Store == "" {
		f.Checkpoints.Store = CheckpointStoreFile
	}

	for name, srv := range f.ToolServers {
		if srv.Transport == "" {
			srv.Transport = TransportStdio
			f.ToolServers[name] = srv
		}
	}

	for i := range f.Agents {
		if f.Agents[i].Model.Provider == "" {
			f.Agents[i].Model.Provider = ProviderOpenAI
		}
	}
}

// Validate reports the first inconsistency in the file.
func (f *File) Validate() error {
	switch f.Workflow.Mode {
	case ModeConcurrent, ModeSequential:
	default:
		return fmt.Errorf("workflow.mode %q must be %q or %q", f.Workflow.Mode, ModeConcurrent, ModeSequential)
	}

	if f.Workflow.MaxConcurrency < 0 {
		return fmt.Errorf("workflow.max_concurrency must be >= 0")
	}

	switch f.Checkpoints.Store {
	case CheckpointStoreFile:
	case CheckpointStoreSQLite:
		if f.Checkpoints.Path == "" {
			return errors.New("checkpoints.path is required for sqlite")
		}
	default:
		return fmt.Errorf("checkpoints.store %q must be %q or %q", f.Checkpoints.Store, CheckpointStoreFile, CheckpointStoreSQLite)
	}

	for name, srv := range f.ToolServers {
		switch srv.Transport {
		case TransportStdio:
			if srv.Command == "" {
				return fmt.Errorf("tool_servers.%s.command is required for stdio", name)
			}
		case TransportSSE:
			if srv.URL == "" {
				return fmt.Errorf("tool_servers.%s.url is required for sse", name)
			}
		default:
			return fmt.Errorf("tool_servers.%s.transport %q is not supported", name, srv.Transport)
		}
	}

	if len(f.Agents) == 0 {
		return errors.New("at least one agent is required")
	}

	seen := make(map[string]bool, len(f.Agents))

	for i, a := range f.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}

		if seen[a.Name] {
			return fmt.Errorf("agents[%d].name %q is duplicated", i, a.Name)
		}

		seen[a.Name] = true

		switch a.Model.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderMock:
		default:
			return fmt.Errorf("agents[%d].model.provider %q is not supported", i, a.Model.Provider)
		}

		for _, ref := range a.ToolServers {
			if _, ok := f.ToolServers[ref]; !ok {
				return fmt.Errorf("agents[%d].tool_servers references unknown server %q", i, ref)
			}
		}

		if _, err := a.AgentConfig(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
	}

	return nil
}

// Agent returns the entry named name.
func (f *File) Agent(name string) (AgentConfig, bool) {
	for _, a := range f.Agents {
		if a.Name == name {
			return a, true
		}
	}

	return AgentConfig{}, false
}

package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentswarm/core"
)

// Default configuration values applied by NewConfig.
const (
	DefaultName           = "Agent"
	DefaultUserName       = "User"
	DefaultMaxLoops       = 1
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 10 * time.Second
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 8192
)

// Config is the validated, immutable configuration of an Agent. Build it
// with NewConfig; New copies it and never mutates it afterwards.
type Config struct {
	Name         string
	ID           string // generated when empty
	Description  string
	SystemPrompt string
	UserName     string

	MaxLoops       int // ≥ 1
	RetryAttempts  int // ≥ 0; a model call is attempted RetryAttempts+1 times
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Temperature float64
	MaxTokens   int64

	// StopPhrases end the loop when any of them is contained in a model response.
	StopPhrases []string

	// Autosave writes a checkpoint after every iteration. CheckpointDir is
	// used when no checkpoint store is injected.
	Autosave      bool
	CheckpointDir string

	// PlanningTemplate enables the planning call. It is rendered with
	// text/template and the field .Task; a template without actions gets the
	// task appended.
	PlanningTemplate string

	ConcurrentToolCalls bool
	MaxParallelTools    int // 0 means unbounded

	// Timeout bounds a whole run when positive.
	Timeout time.Duration

	// TaskEvaluator registers the builtin task_evaluator tool.
	TaskEvaluator bool
}

// NewConfig returns a Config with defaults applied, then optFns, then validation.
func NewConfig(optFns ...func(c *Config)) (Config, error) {
	cfg := Config{
		Name:                DefaultName,
		UserName:            DefaultUserName,
		MaxLoops:            DefaultMaxLoops,
		RetryAttempts:       DefaultRetryAttempts,
		RetryBaseDelay:      DefaultRetryBaseDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		Temperature:         DefaultTemperature,
		MaxTokens:           DefaultMaxTokens,
		ConcurrentToolCalls: true,
	}

	for _, fn := range optFns {
		fn(&cfg)
	}

	if cfg.ID == "" {
		cfg.ID = core.NewID()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg.clone(), nil
}

// Validate checks the invariants of c.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case c.MaxLoops < 1:
		return fmt.Errorf("%w: max loops must be >= 1, got %d", ErrInvalidConfig, c.MaxLoops)
	case c.RetryAttempts < 0:
		return fmt.Errorf("%w: retry attempts must be >= 0, got %d", ErrInvalidConfig, c.RetryAttempts)
	case c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0:
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: temperature must be within [0, 2], got %v", ErrInvalidConfig, c.Temperature)
	case c.MaxTokens < 1:
		return fmt.Errorf("%w: max tokens must be >= 1, got %d", ErrInvalidConfig, c.MaxTokens)
	case c.MaxParallelTools < 0:
		return fmt.Errorf("%w: max parallel tools must not be negative", ErrInvalidConfig)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}

	for _, phrase := range c.StopPhrases {
		if phrase == "" {
			return fmt.Errorf("%w: stop phrases must not be empty", ErrInvalidConfig)
		}
	}

	return nil
}

func (c Config) clone() Config {
	c.StopPhrases = append([]string(nil), c.StopPhrases...)
	return c
}

// matchStopPhrase returns the first configured phrase contained in text.
func (c Config) matchStopPhrase(text string) (string, bool) {
	for _, phrase := range c.StopPhrases {
		if strings.Contains(text, phrase) {
			return phrase, true
		}
	}

	return "", false
}

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/agentswarm/core"
)

// Version is the current checkpoint document version.
const Version = 1

var (
	// ErrNotFound is returned when no checkpoint exists for a key.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrUnsupportedVersion is returned when loading a document written by a
	// newer format.
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
)

// Checkpoint is a snapshot of one agent run.
//
// Iteration counts completed loop iterations: resuming continues with
// iteration Iteration+1 and sends Messages unchanged to the model.
type Checkpoint struct {
	Version   int            `json:"version"`
	AgentName string         `json:"agent_name"`
	AgentID   string         `json:"agent_id"`
	Task      string         `json:"task"`
	Iteration int            `json:"iteration"`
	State     string         `json:"state"`
	Messages  []core.Message `json:"messages"`
	SavedAt   time.Time      `json:"saved_at"`
}

// Validate checks the fields a resume depends on.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return errors.New("checkpoint is nil")
	}

	if c.Version > Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.Version)
	}

	if c.AgentName == "" {
		return errors.New("checkpoint has no agent name")
	}

	if c.Iteration < 0 {
		return fmt.Errorf("checkpoint iteration %d is negative", c.Iteration)
	}

	return nil
}

// Key identifies the checkpoint of an agent/task pair: the sanitized agent
// name and the xxhash of the task.
func Key(agentName, task string) string {
	return fmt.Sprintf("%s_%016x", sanitize(agentName), xxhash.Sum64String(task))
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "agent"
	}

	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}

		return '_'
	}, name)
}

// Store persists checkpoints. Implementations must be safe for concurrent use.
type Store interface {
	// Save writes cp, replacing any earlier checkpoint of the same agent and task.
	Save(ctx context.Context, cp *Checkpoint) error
	// Load returns the checkpoint of the agent/task pair or ErrNotFound.
	Load(ctx context.Context, agentName, task string) (*Checkpoint, error)
}

func prepare(cp *Checkpoint) (*Checkpoint, error) {
	if cp == nil {
		return nil, errors.New("checkpoint is nil")
	}

	out := *cp
	out.Messages = core.CloneMessages(cp.Messages)

	if out.Version == 0 {
		out.Version = Version
	}

	if out.SavedAt.IsZero() {
		out.SavedAt = time.Now().UTC()
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}

	return &out, nil
}

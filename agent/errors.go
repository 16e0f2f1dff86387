package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every configuration validation error.
	ErrInvalidConfig = errors.New("invalid agent config")
	// ErrProvider is wrapped when the model gateway failed beyond the retry budget
	// or with a non-retryable error.
	ErrProvider = errors.New("model provider error")
	// ErrEmptyTask is returned when running an empty task.
	ErrEmptyTask = errors.New("task is empty")
	// ErrCheckpointMismatch is returned when resuming from another agent's checkpoint.
	ErrCheckpointMismatch = errors.New("checkpoint belongs to another agent")
)

// RunError is returned when a run ends in StateFailed.
type RunError struct {
	Agent string
	// Iteration is the loop iteration that failed (0 during planning).
	Iteration  int
	ModelCalls int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("agent %s failed in iteration %d: %v", e.Agent, e.Iteration, e.Err)
}

// Unwrap returns the cause.
func (e *RunError) Unwrap() error { return e.Err }

// State is always StateFailed.
func (e *RunError) State() LoopState { return StateFailed }

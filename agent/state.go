package agent

import "fmt"

// LoopState is the position of a run in the execution state machine.
type LoopState int

const (
	// StatePlanning is active while the optional planning call runs.
	StatePlanning LoopState = iota
	// StateAwaitingModel is active while the model is being called.
	StateAwaitingModel
	// StateExecutingTools is active while requested tool calls run.
	StateExecutingTools
	// StateStopConditionMet is terminal: a stop phrase matched or the task
	// evaluator reported completion.
	StateStopConditionMet
	// StateLoopLimitReached is terminal: MaxLoops iterations completed.
	StateLoopLimitReached
	// StateFailed is terminal: the model failed beyond the retry budget or the
	// run was cancelled.
	StateFailed
)

var stateNames = map[LoopState]string{
	StatePlanning:         "planning",
	StateAwaitingModel:    "awaiting_model",
	StateExecutingTools:   "executing_tools",
	StateStopConditionMet: "stop_condition_met",
	StateLoopLimitReached: "loop_limit_reached",
	StateFailed:           "failed",
}

func (s LoopState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("LoopState(%d)", int(s))
}

// Terminal reports whether no further transition can follow.
func (s LoopState) Terminal() bool {
	return s == StateStopConditionMet || s == StateLoopLimitReached || s == StateFailed
}

// Succeeded reports whether s is a successful terminal state.
func (s LoopState) Succeeded() bool {
	return s == StateStopConditionMet || s == StateLoopLimitReached
}

// MarshalText implements encoding.TextMarshaler.
func (s LoopState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LoopState) UnmarshalText(text []byte) error {
	parsed, err := ParseLoopState(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// ParseLoopState parses the textual form produced by String.
func ParseLoopState(name string) (LoopState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}

	return 0, fmt.Errorf("unknown loop state %q", name)
}

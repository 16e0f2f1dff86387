package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// TaskEvaluatorName is the registered name of the builtin evaluator tool.
const TaskEvaluatorName = "task_evaluator"

const taskEvaluatorDescription = `Finalize or request refinement for the current task.
Call this when all user requirements are fully satisfied (status "complete"), or when more work
is needed (status "incomplete" with context describing the next step).
Do not call this tool twice in a row.`

// TaskStatus is the verdict reported by the task evaluator.
type TaskStatus struct {
	Status  string `json:"status"`            // "complete" or "incomplete"
	Context string `json:"context,omitempty"` // Next step guidance when incomplete
}

// Complete reports whether the model declared the task done.
func (s TaskStatus) Complete() bool { return s.Status == "complete" }

type taskEvaluatorArgs struct {
	Status  string `json:"status" jsonschema:"description=Task status: either 'complete' or 'incomplete'"`
	Context string `json:"context,omitempty" jsonschema:"description=Guidance for the next steps when the task is incomplete"`
}

// NewTaskEvaluator returns the builtin tool a model calls to declare a task
// complete. The agent engine ends the run when it reports completion.
func NewTaskEvaluator() *FunctionTool {
	t, err := NewFunctionToolFromStruct(TaskEvaluatorName, taskEvaluatorDescription, taskEvaluatorArgs{}, evaluateTask)
	if err != nil {
		// The argument struct is static; reflection cannot fail at runtime.
		panic(err)
	}

	return t
}

func evaluateTask(_ context.Context, args map[string]any) (any, error) {
	status, _ := args["status"].(string)
	note, _ := args["context"].(string)

	var verdict TaskStatus

	switch strings.ToLower(strings.TrimSpace(status)) {
	case "complete":
		verdict = TaskStatus{Status: "complete"}
	case "incomplete":
		if note == "" {
			note = "Task needs further work"
		}

		verdict = TaskStatus{Status: "incomplete", Context: note}
	default:
		verdict = TaskStatus{Status: "incomplete", Context: fmt.Sprintf("Invalid status '%s', treating as incomplete", status)}
	}

	data, err := json.Marshal(verdict)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

// ParseTaskStatus extracts the evaluator verdict from a tool result.
func ParseTaskStatus(result string) (TaskStatus, bool) {
	if !gjson.Valid(result) {
		return TaskStatus{}, false
	}

	status := gjson.Get(result, "status")
	if !status.Exists() {
		return TaskStatus{}, false
	}

	return TaskStatus{Status: status.String(), Context: gjson.Get(result, "context").String()}, true
}

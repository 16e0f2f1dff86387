// Package tool implements the tool registry and dispatcher that lets agents
// invoke structured capabilities (local Go functions or tools exposed by
// out-of-process tool servers) with schema validated arguments, consistent
// error handling and descriptors for model guidance.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentswarm/internal/util"
)

// Tool is a handle that can be invoked by name through a Registry.
//
// Implementations include FunctionTool (in-process) and mcp.RemoteTool
// (stdio subprocess or SSE backed). All implementations must be safe for
// concurrent use: the engine may dispatch several calls to the same handle
// within one iteration.
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments. The result is rendered
	// to text by the Registry (strings verbatim, everything else as JSON).
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
	CodeTransport        = "TRANSPORT_ERROR"
	CodeRemote           = "REMOTE_ERROR"
	CodePanic            = "PANIC"
)

var (
	// ErrToolNameEmpty is returned when registering a tool without a name.
	ErrToolNameEmpty = errors.New("tool name is empty")
	// ErrToolExists is returned when a tool name is already registered.
	ErrToolExists = errors.New("tool already registered")
	// ErrNilTool is returned when registering a nil tool.
	ErrNilTool = errors.New("tool is nil")
)

// ToolError represents errors that occur during tool dispatch or execution.
// It is never fatal to an agent: the engine folds it into the conversation as
// an error tool-result message.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`                 // Underlying cause, if any
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// AsToolError normalizes err into a *ToolError for tool name, keeping an
// existing ToolError (and its code) intact.
func AsToolError(name string, err error, code string) *ToolError {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}

	return &ToolError{Tool: name, Message: err.Error(), Code: code, Err: err}
}

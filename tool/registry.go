package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry maps tool names to handles for one agent.
//
// Lookups take a read lock so concurrent dispatches within an iteration never
// contend with each other; registration takes the write lock and normally only
// happens while the agent is being built.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	closers []io.Closer
	logger  logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		tools:  make(map[string]Tool),
		logger: opts.Logger,
	}
}

// Register adds a tool. Names must be unique within the registry.
func (r *Registry) Register(t Tool) error {
	return r.RegisterAll(t)
}

// RegisterAll adds tools atomically: either every tool is registered or,
// on the first invalid or duplicate name, none is.
func (r *Registry) RegisterAll(tools ...Tool) error {
	names := make([]string, len(tools))
	batch := make(map[string]struct{}, len(tools))

	for i, t := range tools {
		if t == nil {
			return ErrNilTool
		}

		name := strings.TrimSpace(t.Name())
		if name == "" {
			return ErrToolNameEmpty
		}

		if _, dup := batch[name]; dup {
			return fmt.Errorf("%w: %s", ErrToolExists, name)
		}

		batch[name] = struct{}{}
		names[i] = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("%w: %s", ErrToolExists, name)
		}
	}

	for i, name := range names {
		r.tools[name] = tools[i]
		r.order = append(r.order, name)

		r.logger.Debug("tool.registered", "tool", name)
	}

	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]

	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Descriptors returns the descriptors advertised to models, in registration order.
func (r *Registry) Descriptors() []core.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, core.ToolDescriptor{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	return out
}

// Invoke dispatches a call by name. arguments is the model supplied JSON
// object (empty means no arguments). Every failure, including an unknown
// name, malformed arguments and a panicking handler, is returned as *ToolError.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) (result string, err error) {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Warn("tool.call.not_found", "tool", name)
		return "", NewToolError(name, fmt.Sprintf("tool %s not found", name), CodeNotFound)
	}

	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", &ToolError{
				Tool:    name,
				Message: fmt.Sprintf("failed to unmarshal args: %v", err),
				Code:    CodeInvalidArguments,
				Err:     err,
			}
		}
	}

	start := time.Now()

	r.logger.Debug("tool.call.start", "tool", name)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool.call.panic", "tool", name, "recover", rec, "stack", string(debug.Stack()))
			result, err = "", NewToolError(name, fmt.Sprintf("panic recovered: %v", rec), CodePanic)
		}
	}()

	out, callErr := t.Call(ctx, args)
	if callErr != nil {
		toolErr := AsToolError(name, callErr, CodeExecution)
		r.logger.Warn("tool.call.error", "tool", name, "code", toolErr.Code, "error", toolErr.Message)

		return "", toolErr
	}

	text, err := FormatResult(out)
	if err != nil {
		return "", AsToolError(name, err, CodeExecution)
	}

	r.logger.Info("tool.call.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())

	return text, nil
}

// FormatResult renders a tool result as conversation text.
func FormatResult(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}

		return string(data), nil
	}
}

// AddCloser ties a resource (e.g. a tool server connection) to the registry's
// lifetime. Closers run in reverse order on Close.
func (r *Registry) AddCloser(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closers = append(r.closers, c)
}

// Close releases every attached resource. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

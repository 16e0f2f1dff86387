package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentswarm/checkpoint"
	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/internal/util"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/memory"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/tool"
)

// run is the mutable state of one execution. It is owned by a single
// goroutine; only tool dispatch fans out, and it never touches run fields.
type run struct {
	agent  *Agent
	task   string
	conv   *memory.Conversation
	state  LoopState
	logger logging.Logger

	completed  int // completed loop iterations
	modelCalls int
}

func (a *Agent) newRun(task string, conv *memory.Conversation) *run {
	return &run{
		agent:  a,
		task:   task,
		conv:   conv,
		state:  StateAwaitingModel,
		logger: a.logger,
	}
}

func (r *run) setState(s LoopState) {
	if r.state != s {
		r.logger.Debug("agent.state", "from", r.state.String(), "to", s.String(), "iteration", r.completed)
	}

	r.state = s
}

func (r *run) plan(ctx context.Context) error {
	r.setState(StatePlanning)

	prompt, err := renderPlanningPrompt(r.agent.cfg.PlanningTemplate, r.task)
	if err != nil {
		return fmt.Errorf("render planning prompt: %w", err)
	}

	var msgs []core.Message
	if r.agent.cfg.SystemPrompt != "" {
		msgs = append(msgs, core.NewSystemMessage(r.agent.cfg.SystemPrompt))
	}

	msgs = append(msgs, core.NewUserMessage(prompt))

	resp, err := r.generate(ctx, model.Request{
		Messages:    msgs,
		Temperature: model.Float(r.agent.cfg.Temperature),
		MaxTokens:   r.agent.cfg.MaxTokens,
	})
	if err != nil {
		return err
	}

	r.conv.Append(core.NewAssistantMessage(resp.Message.Content))
	r.logger.Info("agent.plan.created", "length", len(resp.Message.Content))

	return nil
}

// renderPlanningPrompt renders tmpl with .Task. A template without actions
// is used as an instruction followed by the task.
func renderPlanningPrompt(tmpl, task string) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl + "\n\n" + task, nil
	}

	return util.RenderTemplate(tmpl, map[string]any{"Task": task})
}

func (r *run) loop(ctx context.Context, start int) (*Result, error) {
	cfg := r.agent.cfg

	for i := start; i <= cfg.MaxLoops; i++ {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(ctx, i, err)
		}

		r.setState(StateAwaitingModel)
		r.logger.Debug("agent.loop.iteration", "iteration", i, "messages", r.conv.Len())

		resp, err := r.generate(ctx, r.request())
		if err != nil {
			return nil, r.fail(ctx, i, err)
		}

		msg := normalizeResponse(resp.Message)
		r.conv.Append(msg)

		if phrase, ok := cfg.matchStopPhrase(msg.Content); ok {
			r.completed = i
			r.setState(StateStopConditionMet)
			r.autosave(ctx)
			r.logger.Info("agent.run.stop_phrase", "iteration", i, "phrase", phrase)

			return r.result(msg.Content), nil
		}

		if msg.HasToolCalls() {
			r.setState(StateExecutingTools)

			results := r.executeTools(ctx, msg.ToolCalls)
			r.conv.Append(results...)

			if verdict, ok := evaluatorVerdict(msg.ToolCalls, results); ok && verdict.Complete() {
				r.completed = i
				r.setState(StateStopConditionMet)
				r.autosave(ctx)
				r.logger.Info("agent.run.task_complete", "iteration", i)

				output := lastAssistantText(r.conv)
				if output == "" {
					output = verdict.Context
				}

				return r.result(output), nil
			}
		}

		r.completed = i
		if i == cfg.MaxLoops {
			r.setState(StateLoopLimitReached)
		}

		r.autosave(ctx)
	}

	r.setState(StateLoopLimitReached)
	r.logger.Info("agent.run.loop_limit", "iterations", r.completed, "model_calls", r.modelCalls)

	last, _ := r.conv.LastAssistant()

	return r.result(last.Content), nil
}

func (r *run) request() model.Request {
	req := model.Request{
		Messages:    r.conv.Messages(),
		Temperature: model.Float(r.agent.cfg.Temperature),
		MaxTokens:   r.agent.cfg.MaxTokens,
	}

	if r.agent.registry.Len() > 0 {
		req.Tools = r.agent.registry.Descriptors()
	}

	return req
}

// generate calls the model, retrying retryable errors up to RetryAttempts
// times with the same request.
func (r *run) generate(ctx context.Context, req model.Request) (*model.Response, error) {
	cfg := r.agent.cfg

	var lastErr error

	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg.RetryBaseDelay, cfg.RetryMaxDelay, attempt-1)
			r.logger.Warn("agent.model.retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", lastErr.Error())

			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		r.modelCalls++

		resp, err := r.agent.model.Generate(ctx, req)
		if err == nil && resp == nil {
			err = errors.New("model returned no response")
		}

		if err == nil {
			r.logger.Debug("agent.model.response", "finish_reason", resp.FinishReason, "tool_calls", len(resp.Message.ToolCalls))
			return resp, nil
		}

		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if !model.IsRetryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrProvider, lastErr)
}

func (r *run) fail(ctx context.Context, iteration int, err error) error {
	r.setState(StateFailed)
	r.autosave(ctx)
	r.logger.Error("agent.run.failed", "iteration", iteration, "model_calls", r.modelCalls, "error", err.Error())

	return &RunError{
		Agent:      r.agent.cfg.Name,
		Iteration:  iteration,
		ModelCalls: r.modelCalls,
		Err:        err,
	}
}

func (r *run) result(output string) *Result {
	return &Result{
		Output:     output,
		State:      r.state,
		Iterations: r.completed,
		ModelCalls: r.modelCalls,
		Messages:   r.conv.Messages(),
	}
}

// autosave writes a checkpoint of the completed iterations. Failures are
// logged and never abort the run.
func (r *run) autosave(ctx context.Context) {
	a := r.agent
	if !a.cfg.Autosave || a.store == nil {
		return
	}

	cp := &checkpoint.Checkpoint{
		Version:   checkpoint.Version,
		AgentName: a.cfg.Name,
		AgentID:   a.cfg.ID,
		Task:      r.task,
		Iteration: r.completed,
		State:     r.state.String(),
		Messages:  r.conv.Messages(),
		SavedAt:   a.clock().UTC(),
	}

	// A cancelled run still records where it stopped.
	if err := a.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		r.logger.Warn("agent.checkpoint.save_failed", "iteration", r.completed, "error", err.Error())
		return
	}

	r.logger.Debug("agent.checkpoint.saved", "iteration", r.completed, "state", r.state.String())
}

// normalizeResponse forces the assistant role and gives every tool call an id
// so results can be correlated.
func normalizeResponse(msg core.Message) core.Message {
	msg = msg.Clone()
	msg.Role = core.RoleAssistant

	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + core.NewID()
		}
	}

	return msg
}

func evaluatorVerdict(calls []core.ToolCall, results []core.Message) (tool.TaskStatus, bool) {
	var (
		verdict tool.TaskStatus
		found   bool
	)

	for i, call := range calls {
		if call.Name != tool.TaskEvaluatorName || results[i].IsError {
			continue
		}

		if status, ok := tool.ParseTaskStatus(results[i].Content); ok {
			verdict, found = status, true
		}
	}

	return verdict, found
}

func lastAssistantText(conv *memory.Conversation) string {
	msgs := conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}

	return ""
}

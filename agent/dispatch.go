package agent

import (
	"context"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"golang.org/x/sync/errgroup"
)

// executeTools runs the calls of one model response and returns one
// tool-result message per call, in call order. Calls run concurrently when
// enabled; completion order does not affect the result order.
func (r *run) executeTools(ctx context.Context, calls []core.ToolCall) []core.Message {
	cfg := r.agent.cfg
	results := make([]core.Message, len(calls))
	start := time.Now()

	parallel := cfg.ConcurrentToolCalls && len(calls) > 1

	if !parallel {
		for i, call := range calls {
			results[i] = r.invoke(ctx, call)
		}
	} else {
		// A plain group: one failing tool never cancels its siblings.
		var g errgroup.Group
		if cfg.MaxParallelTools > 0 {
			g.SetLimit(cfg.MaxParallelTools)
		}

		for i, call := range calls {
			g.Go(func() error {
				results[i] = r.invoke(ctx, call)
				return nil
			})
		}

		_ = g.Wait()
	}

	r.logger.Debug(
		"agent.tools.batch.complete",
		"count", len(calls),
		"parallel", parallel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results
}

// invoke dispatches one call. Dispatch failures, including unknown tools,
// become error tool-result messages.
func (r *run) invoke(ctx context.Context, call core.ToolCall) core.Message {
	out, err := r.agent.registry.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		r.logger.Warn("agent.tool.error", "tool", call.Name, "call_id", call.ID, "error", err.Error())
		return core.NewToolResultMessage(call, err.Error(), true)
	}

	return core.NewToolResultMessage(call, out, false)
}

// Package agent contains the agent execution engine: a bounded loop that
// drives a model.Model, dispatches the tool calls it requests through a
// tool.Registry and stops when a stop phrase appears, the builtin task
// evaluator reports completion or the loop budget is used up.
//
// Execution model:
//   - Every Run owns a fresh memory.Conversation seeded with the system prompt
//     and the task; an Agent can therefore serve several runs concurrently
//   - Model calls are retried with exponential backoff; only errors
//     classified retryable by model.IsRetryable are retried
//   - Tool calls of one model response may run concurrently; their results are
//     appended in call order before the next model call
//   - With autosave enabled a checkpoint is written after every iteration so
//     a run can be resumed with Resume
package agent

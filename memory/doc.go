// Package memory holds the per-agent conversation log.
//
// A Conversation is an append-only ordered sequence of core.Message values.
// Insertion order is meaningful: the full log is replayed verbatim to the
// model on every loop iteration, and it is the payload persisted by
// checkpoints. A Conversation is owned by exactly one agent run and is never
// shared across agents.
package memory

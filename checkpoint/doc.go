// Package checkpoint persists agent state (conversation, completed iteration
// count and loop state) so an interrupted run can be resumed.
//
// Two Store implementations are provided:
//
//   - FileStore writes one JSON document per agent and task, optionally zstd
//     compressed, at <dir>/<agent>_<taskhash>.json[.zst]
//   - SQLiteStore keeps checkpoints in a single SQLite database
//
// A checkpoint is overwritten on every save; only the latest state of an
// agent/task pair is kept.
package checkpoint

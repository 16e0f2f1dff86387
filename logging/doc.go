// Package logging provides a minimal logging interface and adapters for AgentSwarm.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that agents, tool transports and workflows use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging (json, text, or tint console output)
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - With for scoping a Logger to an agent or workflow run
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "console", false)
//	a, err := agent.New(cfg, m, func(o *agent.Options) { o.Logger = logger })
package logging

// Package logging provides a minimal logging interface and adapters for agentgraph.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the engine, gateways and nodes use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter and ExecutionLogger built on log/slog
//   - ZerologAdapter for zerolog based deployments
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
package logging

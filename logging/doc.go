// Package logging provides a minimal logging interface and adapters.
//
// The Logger interface (Debug, Info, Warn, Error with slog-style key/value
// args) is what agents, flows, stores and the runner depend on. This package
// includes:
//
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger with component scoping and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	r := runner.New(root, func(o *runner.Options) { o.Logger = logger })
package logging

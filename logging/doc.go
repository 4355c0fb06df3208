// Package logging provides a minimal logging interface and adapters for the
// AFQMC engine.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the runner, propagator and ensemble use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - QMCLogger with run/rank context and domain helpers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	sim, err := afqmcgo.New(afqmcgo.Options{System: sys, Trial: trial, Logger: logger})
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging

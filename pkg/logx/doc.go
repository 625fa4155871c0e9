// Package logx provides the structured logging used across the daemon.
//
// It wraps zerolog behind a small Logger type so call sites stay decoupled
// from the backend, and a Service that can hot-swap sinks/levels when the
// config file changes.
package logx

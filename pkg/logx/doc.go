// Package logx is a small zerolog wrapper used by the persistence and
// config layers.
//
// It exists so those packages can log before the slog-based service
// loggers are wired up, and so they keep logging across config reloads:
// a Logger created from a Service stays "live" when Apply() swaps sinks
// or levels. The zero value is a safe no-op logger.
package logx

// Package log provides the structured logging helper shared by every
// pipeline stage, wrapping log/slog the same way the teacher's own log
// package wraps the standard logger: a named child logger per component,
// with attributes for segment hash, block count, and stage timing attached
// at the call site rather than baked into format strings.
package log

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
)

// SetHandler overrides the process-wide slog.Handler used by Logger.
// SetVerbose (called by cmd/rvtrjit) uses this to raise verbosity.
func SetHandler(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	handler = h
}

// Logger returns a named *slog.Logger, e.g. Logger("translate") for the
// loader/activator stage.
func Logger(name string) *slog.Logger {
	mu.Lock()
	h := handler
	mu.Unlock()
	return slog.New(h).With("component", name)
}

// SetVerbose switches the process-wide handler to slog.LevelDebug,
// matching the verbose_loader configuration flag.
func SetVerbose(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	SetHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

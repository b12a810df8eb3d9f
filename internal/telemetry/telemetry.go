// Package telemetry sets up the runtime's structured logging. Every
// component logs through log/slog rather than fmt/log, so callers can
// redirect or filter output uniformly.
package telemetry

import (
	"log/slog"
	"os"
)

// New builds a text-handler slog.Logger writing to os.Stderr. verbose
// selects Debug instead of Info as the minimum level, mirroring the
// --verbose flag threaded through the CLI.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// SetDefault installs logger as the process-wide slog default, for code
// paths (mainly third-party libraries) that log through the package-level
// slog functions instead of taking a *slog.Logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// Package logging constructs the structured logger shared by every apprun
// binary (front door, worker, and the maintenance sweep goroutine).
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a slog.Logger writing text-formatted records to stderr at the
// given level ("debug", "info", "warn", "error"; unrecognized values fall
// back to "info").
func New(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

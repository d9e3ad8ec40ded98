// Package logger provides the single structured-logging constructor every
// binary in this module uses.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger tagged with a service field, configured at
// level.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

package logging

import (
	"log/slog"
	"os"
)

// New creates the bridge process logger. Output is JSON on stdout so the
// Home Assistant supervisor captures structured lines.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

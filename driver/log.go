package driver

import (
	"io"
	"log/slog"
)

// NewLogger creates a text logger writing to w. Verbosity 0 logs errors
// only; each step up adds warnings, info and debug output.
func NewLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelError
	switch {
	case verbose >= 3:
		level = slog.LevelDebug
	case verbose >= 2:
		level = slog.LevelInfo
	case verbose >= 1:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

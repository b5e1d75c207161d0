// Package obslog wires up the broker's structured logging the way the
// teacher's main command does: a process-wide slog.Logger switchable
// between text and JSON handlers, with the level adjustable at startup.
package obslog

import (
	"log/slog"
	"os"
)

// Options configures the logger constructed by New.
type Options struct {
	// Level is the minimum level to emit (slog.LevelDebug..slog.LevelError).
	Level slog.Level
	// JSON switches to slog.NewJSONHandler when true, text otherwise.
	JSON bool
}

// New builds a *slog.Logger writing to stdout per Options.
func New(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	return slog.New(handler)
}

// ParseLevel maps the broker's logging.level config string ("debug",
// "info", "warn", "error") to a slog.Level, defaulting to Info for any
// unrecognized value.
func ParseLevel(s string) slog.Level {
	switch s {
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

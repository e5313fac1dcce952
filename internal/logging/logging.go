// Package logging builds the structured logger shared by every
// component, selecting text or JSON output the way the CLI layer
// picks a human or machine format.
package logging

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// Options controls logger construction.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Empty means info.
	Level string
	// Format is one of "text", "json", "auto". Empty means auto.
	Format string
}

// New builds a slog.Logger writing to stderr per opts. "auto" format
// emits JSON when stderr is not a TTY (piped to a log collector) and
// text otherwise, so interactive runs stay readable while supervised
// runs stay parseable.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	format := opts.Format
	if format == "" || format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

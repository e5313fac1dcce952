package main

import (
	"log/slog"

	"github.com/i-z-z-y/wpdrive-client/internal/logging"
)

// buildLogger constructs the shared logger from config-file settings.
// Called once pre-config (empty level/format, defaulting to info/auto)
// and again once config.json is loaded.
func buildLogger(level, format string) *slog.Logger {
	return logging.New(logging.Options{Level: level, Format: format})
}

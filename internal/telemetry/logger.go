// Package telemetry wires up the ambient logging and metrics surface:
// slog structured logging and Prometheus counters/histograms/gauges for
// the poll pipeline. Logger setup mirrors the teacher's
// internal/globals/config.go InitLogger (level-switch plus JSON/text
// handler selection); Prometheus is an enrichment import grounded on
// wisbric-nightowl and jordigilh-kubernaut, neither of which the teacher
// carries at all.
package telemetry

import (
	"log/slog"
	"os"
)

// NewLogger builds a slog.Logger from the LOG_LEVEL/LOG_FORMAT config
// knobs, writing to stdout the way the teacher's InitLogger does.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

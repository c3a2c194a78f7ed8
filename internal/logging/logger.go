// Package logging shapes the structured logger every component receives
// through exectx.Resources.Logger, following the level/format policy the
// teacher's internal/logging package applies to its own runtime.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config is the ambient logging configuration surface; cmd/main.go builds
// it from config.Config's Logging section.
type Config struct {
	Level             string
	Format            string
	CorrelationHeader string
}

// New shapes slog so emitted telemetry matches the runtime's logging policy.
func New(cfg Config) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("logging: unsupported level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	logger := slog.New(handler).With(slog.String("component", "actionkit"))
	if cfg.CorrelationHeader != "" {
		logger = logger.With(slog.String("correlation_header", cfg.CorrelationHeader))
	}
	return logger, nil
}

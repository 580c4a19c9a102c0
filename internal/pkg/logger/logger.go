// Package logger provides the structured JSON logger shared by all binaries.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds logger options.
type Config struct {
	Level string // debug, info, warn, error
}

// New creates a structured JSON logger writing to stdout.
func New(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		AddSource:   false,
		ReplaceAttr: formatTime,
	})

	return slog.New(handler)
}

// NewDefault creates a logger with only a level string.
func NewDefault(level string) *slog.Logger {
	return New(Config{Level: level})
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
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

// formatTime renders log timestamps as UTC RFC3339.
func formatTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		t := a.Value.Time()
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

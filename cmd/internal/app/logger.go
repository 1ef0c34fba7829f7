package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the process logger and installs it as the slog default.
//
// Formats:
//   - json (default): one JSON object per line, for shipping.
//   - text: aligned key=value lines for local use.
//   - pretty: text with ANSI colors.
func NewLogger(level, format string) *slog.Logger {
	log := newLoggerTo(os.Stdout, level, format)
	slog.SetDefault(log)
	return log
}

func newLoggerTo(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		h = newPrettyHandler(w, opts, false)
	case "pretty":
		h = newPrettyHandler(w, opts, true)
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func parseLogLevel(level string) slog.Level {
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

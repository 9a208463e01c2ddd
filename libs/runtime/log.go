package runtime

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger reads LOG_LEVEL from the environment.
func NewLogger(service string) *slog.Logger {
	return NewLoggerWithLevel(service, os.Getenv("LOG_LEVEL"))
}

// NewLoggerWithLevel builds the JSON logger every service uses. Unknown levels fall back to info.
func NewLoggerWithLevel(service, level string) *slog.Logger {
	return newLogger(os.Stdout, service, level)
}

func newLogger(w io.Writer, service, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h).With("service", service)
}

func ParseLevel(level string) slog.Level {
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

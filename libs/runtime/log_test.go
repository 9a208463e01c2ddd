package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLoggerCarriesServiceName(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "booking-service", "info")
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at info level")
	}
	logger.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if rec["service"] != "booking-service" {
		t.Fatalf("expected service attr, got %v", rec["service"])
	}
}

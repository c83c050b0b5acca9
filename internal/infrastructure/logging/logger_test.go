package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/config"
)

func TestJSONOutputCarriesDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	log.Info("pool started", "connections", 2)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["service"] != "conduit" {
		t.Errorf("service = %v, want conduit", record["service"])
	}
	if record["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", record["version"])
	}
	if record["msg"] != "pool started" {
		t.Errorf("msg = %v, want 'pool started'", record["msg"])
	}
	if record["connections"] != float64(2) {
		t.Errorf("connections = %v, want 2", record["connections"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "dev", &buf)

	log.Info("endpoint connected", "address", "192.168.1.40:4999")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("text format produced JSON: %s", out)
	}
	if !strings.Contains(out, "address=192.168.1.40:4999") {
		t.Errorf("missing attribute in text output: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, "dev", &buf)

	log.Debug("suppressed")
	log.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("records below warn were written: %s", buf.String())
	}

	log.Warn("visible")
	if buf.Len() == 0 {
		t.Error("warn record was filtered")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

	child := log.With("component", "bridge")
	if child == log {
		t.Fatal("With() returned the parent logger")
	}
	child.Info("command forwarded")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["component"] != "bridge" {
		t.Errorf("component = %v, want bridge", record["component"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/config"
)

func TestNew_Outputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", ""} {
		logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: output}, "1.0.0")
		if logger == nil {
			t.Fatalf("New(output=%q) returned nil", output)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug level", input: "debug", expected: slog.LevelDebug},
		{name: "info level", input: "info", expected: slog.LevelInfo},
		{name: "warn level", input: "warn", expected: slog.LevelWarn},
		{name: "warning level", input: "warning", expected: slog.LevelWarn},
		{name: "error level", input: "error", expected: slog.LevelError},
		{name: "unknown defaults to info", input: "unknown", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "case insensitive", input: "DEBUG", expected: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_JSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test-version")

	logger.Info("appliance discovered", "address", "192.168.1.50")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if entry["service"] != ServiceName {
		t.Errorf("service = %v, want %q", entry["service"], ServiceName)
	}
	if entry["version"] != "test-version" {
		t.Errorf("version = %v, want %q", entry["version"], "test-version")
	}
	if entry["msg"] != "appliance discovered" {
		t.Errorf("msg = %v, want %q", entry["msg"], "appliance discovered")
	}
	if entry["address"] != "192.168.1.50" {
		t.Errorf("address = %v, want %q", entry["address"], "192.168.1.50")
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "debug", Format: "text"}, "1.0.0")

	logger.Debug("refresh skipped")

	output := buf.String()
	if !strings.Contains(output, "msg=\"refresh skipped\"") {
		t.Errorf("text output = %q, want msg field", output)
	}
	if !strings.Contains(output, "service="+ServiceName) {
		t.Errorf("text output = %q, want service field", output)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "json"}, "1.0.0")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record missing: %q", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.0.0")

	child := logger.With("component", "echonet")
	if child == logger {
		t.Error("expected child logger to be different from parent")
	}

	child.Info("listening")
	if !strings.Contains(buf.String(), `"component":"echonet"`) {
		t.Errorf("child output = %q, want component attribute", buf.String())
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected info level, got %s", cfg.Level)
	}
	if cfg.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Format)
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: "debug", Format: "text", Output: &buf}
	logger := New(cfg)

	logger.Info("rule added", "rule_id", "r1", "priority", 100)

	out := buf.String()
	if !strings.Contains(out, "rule added") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "rule_id=r1") {
		t.Errorf("expected rule_id field in output, got %q", out)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: "warn", Format: "text", Output: &buf}
	logger := New(cfg)

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	logger.Warn("this should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("debug/info should be suppressed at warn level: %q", out)
	}
	if !strings.Contains(out, "this should appear") {
		t.Errorf("expected warn message in output: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: "info", Format: "json", Output: &buf}
	logger := New(cfg)

	logger.Info("hello", "k", "v")

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected JSON output, got %q", out)
	}
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: "info", Format: "text", Output: &buf}
	logger := New(cfg).With("component", "classifier")

	logger.Info("verdict", "action", "drop")

	out := buf.String()
	if !strings.Contains(out, "component=classifier") {
		t.Errorf("expected component field, got %q", out)
	}
}

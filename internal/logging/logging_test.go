package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Options{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Named("scheduler").Info("pass completed", zap.String("entity", "example.com"))
	logger.Debug("hidden")
	_ = logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for _, key := range []string{"timestamp", "level", "message", "logger", "caller"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("expected key %q in %v", key, entry)
		}
	}
	if entry["logger"] != "scheduler" || entry["entity"] != "example.com" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewLogger_InvalidOptions(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := New(Options{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.log")
	var buf bytes.Buffer
	logger, err := newLogger(Options{Level: "debug", Format: "console", File: path, MaxSizeMB: 1}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Warn("fetch failed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"fetch failed"`) {
		t.Errorf("expected JSON entry in file, got %q", data)
	}
	if !strings.Contains(buf.String(), "fetch failed") {
		t.Errorf("expected console entry, got %q", buf.String())
	}
}

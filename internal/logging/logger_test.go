package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		minLevel Level
		logLevel Level
		wantLog  bool
	}{
		{"debug passes at debug", LevelDebug, LevelDebug, true},
		{"debug filtered at info", LevelInfo, LevelDebug, false},
		{"info passes at info", LevelInfo, LevelInfo, true},
		{"warn passes at info", LevelInfo, LevelWarn, true},
		{"error passes at warn", LevelWarn, LevelError, true},
		{"info filtered at error", LevelError, LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewTestLogger(tt.minLevel, &buf)

			logger.Log(tt.logLevel, "test.event", "test message", nil)

			got := buf.Len() > 0
			if got != tt.wantLog {
				t.Errorf("logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestLoggerEventShape(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(LevelDebug, &buf)

	logger.Info("agent.started", "Agent started", map[string]interface{}{
		"pid": 1234,
	})

	var event Event
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}

	if event.Level != LevelInfo {
		t.Errorf("Level = %v, want %v", event.Level, LevelInfo)
	}
	if event.Type != "agent.started" {
		t.Errorf("Type = %v, want agent.started", event.Type)
	}
	if event.Message != "Agent started" {
		t.Errorf("Message = %v, want Agent started", event.Message)
	}
	if event.Payload["pid"] != float64(1234) {
		t.Errorf("Payload[pid] = %v, want 1234", event.Payload["pid"])
	}
	if event.Timestamp == "" {
		t.Error("Timestamp is empty")
	}
}

func TestNewFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "agent.log")

	logger, err := NewFileLogger(LevelInfo, logPath)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.Info("store.saved", "Store persisted", nil)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "store.saved") {
		t.Errorf("log file missing event, got %q", string(data))
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("log file permissions = %o, want 600", perm)
	}
}

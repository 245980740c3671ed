package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "stream.log")

	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.File = path

	logger, level, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Named("cache").Info("entry set", zap.String("key", "content /j/a.md"))
	logger.Debug("dropped at info level")
	level.SetLevel(zapcore.DebugLevel)
	logger.Debug("kept at debug level")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want 2:\n%s", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if entry["logger"] != "cache" || entry["key"] != "content /j/a.md" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"level", Config{Level: "loud"}},
		{"format", Config{Format: "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

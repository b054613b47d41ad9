package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWritesToFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "membank.log")

	if err := Setup(Config{Level: "debug", File: file}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer Close()

	slog.Info("hello from test", "k", "v")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing entry: %s", data)
	}
	if !strings.Contains(string(data), `"k":"v"`) {
		t.Errorf("log file not JSON formatted: %s", data)
	}
}

func TestComponentTagsLogger(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "membank.log")
	if err := Setup(Config{Level: "info", File: file}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer Close()

	Component("writer").Info("block created")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"writer"`) {
		t.Errorf("component attribute missing: %s", data)
	}
}

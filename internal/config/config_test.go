package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envListenAddr, envDBPath, envOutputDir, envWorkerURL,
		envStreamInterval, envComputeTimeout, envPipelineCacheSize, envLogLevel,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.OutputDir != defaultOutputDir {
		t.Errorf("OutputDir = %q, want %q", cfg.OutputDir, defaultOutputDir)
	}
	if cfg.StreamInterval != time.Second {
		t.Errorf("StreamInterval = %v, want 1s", cfg.StreamInterval)
	}
	if cfg.ComputeTimeout != 0 {
		t.Errorf("ComputeTimeout = %v, want 0 (disabled)", cfg.ComputeTimeout)
	}
	if cfg.PipelineCacheSize != 0 {
		t.Errorf("PipelineCacheSize = %d, want 0 (never evict)", cfg.PipelineCacheSize)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9191")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envWorkerURL, "http://gpu-1:9090")
	t.Setenv(envStreamInterval, "250ms")
	t.Setenv(envComputeTimeout, "5m")
	t.Setenv(envPipelineCacheSize, "3")
	t.Setenv(envLogLevel, "debug")

	cfg := Load()

	if cfg.ListenAddr != ":9191" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9191")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.WorkerURL != "http://gpu-1:9090" {
		t.Errorf("WorkerURL = %q", cfg.WorkerURL)
	}
	if cfg.StreamInterval != 250*time.Millisecond {
		t.Errorf("StreamInterval = %v, want 250ms", cfg.StreamInterval)
	}
	if cfg.ComputeTimeout != 5*time.Minute {
		t.Errorf("ComputeTimeout = %v, want 5m", cfg.ComputeTimeout)
	}
	if cfg.PipelineCacheSize != 3 {
		t.Errorf("PipelineCacheSize = %d, want 3", cfg.PipelineCacheSize)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
}

func TestInvalidDurationsFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(envStreamInterval, "soon")
	t.Setenv(envComputeTimeout, "-1s")
	t.Setenv(envPipelineCacheSize, "many")

	cfg := Load()

	if cfg.StreamInterval != defaultStreamInterval {
		t.Errorf("StreamInterval = %v, want default", cfg.StreamInterval)
	}
	if cfg.ComputeTimeout != defaultComputeTimeout {
		t.Errorf("ComputeTimeout = %v, want default", cfg.ComputeTimeout)
	}
	if cfg.PipelineCacheSize != defaultPipelineCacheSize {
		t.Errorf("PipelineCacheSize = %d, want default", cfg.PipelineCacheSize)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

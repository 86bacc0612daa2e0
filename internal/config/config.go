package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "mirage.db"
	defaultOutputDir         = "generated_images"
	defaultWorkerURL         = "http://localhost:9090"
	defaultStreamInterval    = time.Second
	defaultComputeTimeout    = 0 // no deadline unless configured
	defaultPipelineCacheSize = 0 // never evict

	envListenAddr        = "MIRAGE_LISTEN_ADDR"
	envDBPath            = "MIRAGE_DB_PATH"
	envOutputDir         = "MIRAGE_OUTPUT_DIR"
	envWorkerURL         = "MIRAGE_WORKER_URL"
	envStreamInterval    = "MIRAGE_STREAM_INTERVAL"
	envComputeTimeout    = "MIRAGE_COMPUTE_TIMEOUT"
	envPipelineCacheSize = "MIRAGE_PIPELINE_CACHE_SIZE"
	envLogLevel          = "MIRAGE_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	OutputDir  string
	WorkerURL  string

	// StreamInterval is the progress stream heartbeat period.
	StreamInterval time.Duration

	// ComputeTimeout bounds the synthesis stage; zero disables the deadline.
	ComputeTimeout time.Duration

	// PipelineCacheSize bounds the pipeline cache; zero keeps every handle.
	PipelineCacheSize int

	LogLevel slog.Level
}

// Load reads configuration from the environment with sensible defaults. A
// .env file in the working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		OutputDir:         defaultOutputDir,
		WorkerURL:         defaultWorkerURL,
		StreamInterval:    defaultStreamInterval,
		ComputeTimeout:    defaultComputeTimeout,
		PipelineCacheSize: defaultPipelineCacheSize,
		LogLevel:          slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envOutputDir); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv(envWorkerURL); v != "" {
		cfg.WorkerURL = v
	}
	if v := os.Getenv(envStreamInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StreamInterval = d
		}
	}
	if v := os.Getenv(envComputeTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ComputeTimeout = d
		}
	}
	if v := os.Getenv(envPipelineCacheSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PipelineCacheSize = n
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

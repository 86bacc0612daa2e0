package main

import (
	"context"
	"log"
	"os"

	"github.com/calder/mirage/internal/api"
	"github.com/calder/mirage/internal/config"
	"github.com/calder/mirage/internal/engine"
	"github.com/calder/mirage/internal/pipeline"
	"github.com/calder/mirage/internal/registry"
	"github.com/calder/mirage/internal/storage"
	"github.com/calder/mirage/internal/store"
	"github.com/calder/mirage/internal/synth"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("mirage: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"worker_url", cfg.WorkerURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	artifacts, err := storage.NewFileStore(cfg.OutputDir)
	if err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	worker, err := synth.NewWorker(synth.WorkerOptions{BaseURL: cfg.WorkerURL})
	if err != nil {
		log.Fatalf("failed to configure synthesis worker: %v", err)
	}

	pipelines, err := pipeline.NewCache(pipeline.LoaderFunc(func(ctx context.Context, key string) error {
		return worker.Warm(ctx, key)
	}), cfg.PipelineCacheSize)
	if err != nil {
		log.Fatalf("failed to create pipeline cache: %v", err)
	}

	reg := registry.New()
	eng := engine.NewEngine(reg, pipelines, worker, artifacts, db, logger, cfg.ComputeTimeout)

	srv := api.NewServer(cfg.ListenAddr, reg, eng, db, cfg.OutputDir, cfg.StreamInterval, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

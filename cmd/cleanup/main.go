package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/config"
	"github.com/abdul-hamid-achik/ppescan/internal/di"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/sweeper"
)

func main() {
	if err := run(); err != nil {
		slog.Error("cleanup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("starting retention sweep", "max_age", cfg.RetentionMaxAge.String())
	start := time.Now()

	ctx, cancel := context.WithTimeout(logger.WithLogger(context.Background(), log), 30*time.Minute)
	defer cancel()

	deps, err := di.Build(ctx, cfg, di.Options{})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	stats, err := sweeper.New(deps.Storage, deps.Tracker, sweeper.Config{
		MaxAge:     cfg.RetentionMaxAge,
		TrackerTTL: cfg.TrackerTTL,
	}).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	log.Info("cleanup completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"scanned", stats.Scanned,
		"deleted", stats.Deleted,
		"retained", stats.Retained,
		"delete_errors", stats.DeleteErrors,
		"jobs_pruned", stats.JobsPruned,
	)

	return nil
}

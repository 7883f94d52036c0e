package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	"github.com/abdul-hamid-achik/job-queue/pkg/worker"
	"github.com/abdul-hamid-achik/ppescan/internal/config"
	"github.com/abdul-hamid-achik/ppescan/internal/di"
	"github.com/abdul-hamid-achik/ppescan/internal/health"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
	ppeworker "github.com/abdul-hamid-achik/ppescan/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The worker only exists for queue dispatch.
	cfg.DispatchMode = config.DispatchQueue
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded", "tracker", cfg.TrackerBackend, "inference", cfg.InferenceMode)

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(ctx, tracing.RoleWorker, version, cfg)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	zerologger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ppescan-worker").Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerologger = zerologger.Level(lvl)
	}

	deps, err := di.Build(ctx, cfg, di.Options{WithInference: true})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	b := broker.NewRedisStreamsBroker(deps.Redis,
		broker.WithWorkerID(fmt.Sprintf("worker-%d", os.Getpid())),
	)
	log.Info("broker initialized")

	metrics.SetAppInfo(version, cfg.Environment, "worker")
	metrics.SetWorkerPoolSize(cfg.WorkerConcurrency)

	registry := worker.NewRegistry()
	if err := registry.Register(ppeworker.JobTypeDetect, ppeworker.DetectHandler(&ppeworker.Dependencies{
		Runner:  deps.Processor,
		Tracker: deps.Tracker,
	})); err != nil {
		return fmt.Errorf("failed to register handler: %w", err)
	}

	// The pipeline enforces the per-kind deadline; this only catches a job
	// that outlives the longest one.
	registry.Use(
		middleware.RecoveryMiddleware(zerologger),
		middleware.LoggingMiddleware(zerologger),
		middleware.TimeoutMiddleware(cfg.JobTimeoutFor("video")+time.Minute),
		middleware.MetricsMiddleware(metrics.NewPrometheusCollector()),
	)

	log.Info("creating worker pool", "concurrency", cfg.WorkerConcurrency)

	workerPool := worker.NewPool(b, registry,
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithPoolQueues([]string{ppeworker.QueueDefault}),
		worker.WithPoolPollInterval(time.Second),
		worker.WithShutdownTimeout(30*time.Second),
		worker.WithPoolLogger(zerologger),
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("GET /health/live", health.LivenessHandler())
	metricsMux.HandleFunc("GET /health", health.ReadinessHandler(deps.Health))

	metricsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics server starting", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SetInferenceLeases(deps.Leases.Active())
			case <-ctx.Done():
				return
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	poolErr := make(chan error, 1)
	go func() {
		log.Info("starting worker pool")
		poolErr <- workerPool.Start(ctx)
	}()

	select {
	case err := <-poolErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("worker pool error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := workerPool.Stop(shutdownCtx); err != nil {
			log.Error("error stopping pool", "error", err)
		}

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping metrics server", "error", err)
		}

		cancel()
	}

	log.Info("worker pool stopped gracefully")
	return nil
}

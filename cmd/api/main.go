package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/ppescan/internal/api"
	"github.com/abdul-hamid-achik/ppescan/internal/config"
	"github.com/abdul-hamid-achik/ppescan/internal/delivery"
	"github.com/abdul-hamid-achik/ppescan/internal/di"
	"github.com/abdul-hamid-achik/ppescan/internal/dispatch"
	"github.com/abdul-hamid-achik/ppescan/internal/ingest"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/sweeper"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded",
		"tracker", cfg.TrackerBackend,
		"dispatch", cfg.DispatchMode,
		"inference", cfg.InferenceMode,
	)

	ctx := logger.WithLogger(context.Background(), log)

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(ctx, tracing.RoleAPI, version, cfg)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
		log.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.TraceSampleRate)
	}

	deps, err := di.Build(ctx, cfg, di.Options{WithInference: cfg.DispatchMode == config.DispatchLocal})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	var (
		dispatcher dispatch.Dispatcher
		local      *dispatch.Local
	)
	switch cfg.DispatchMode {
	case config.DispatchQueue:
		b := broker.NewRedisStreamsBroker(deps.Redis)
		dispatcher = dispatch.NewQueue(b)
		log.Info("dispatching to redis streams")
	default:
		local = dispatch.NewLocal(deps.Processor, cfg.WorkerConcurrency, cfg.QueueSize)
		dispatcher = local
		metrics.SetWorkerPoolSize(cfg.WorkerConcurrency)
		log.Info("dispatching in process", "workers", cfg.WorkerConcurrency, "queue_size", cfg.QueueSize)
	}

	deliverySvc := delivery.NewService(deps.Storage, deps.Tracker, delivery.Config{
		BaseURL:       cfg.BaseURL,
		PresignExpiry: cfg.PresignExpiry,
	})
	ingestSvc := ingest.NewService(deps.Storage, deps.Tracker, dispatcher, ingest.Config{
		MaxUploadSize: cfg.MaxUploadSize,
		RetainFor:     cfg.OriginalRetention(),
	})

	var limiter api.Limiter
	if cfg.UploadRateLimit > 0 {
		if deps.Redis != nil {
			limiter = api.NewRedisRateLimiter(deps.Redis, cfg.UploadRateLimit*60, time.Minute)
		} else {
			memLimiter := api.NewRateLimiter(cfg.UploadRateLimit, cfg.UploadRateBurst)
			defer memLimiter.Stop()
			limiter = memLimiter
		}
	}

	metrics.SetAppInfo(version, cfg.Environment, "api")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.NewRouter(&api.Config{
		Ingest:             ingestSvc,
		Delivery:           deliverySvc,
		Health:             deps.Health,
		BaseURL:            cfg.BaseURL,
		MaxUploadSize:      cfg.MaxUploadSize,
		StreamChunkTimeout: cfg.StreamChunkTimeout,
		UploadLimiter:      limiter,
	}))

	handler := api.SecurityHeaders(metrics.HTTPMetricsMiddleware(api.Recovery(api.RequestID(api.RequestLogger(mux)))))
	if cfg.TracingEnabled {
		handler = tracing.HTTPMiddleware("ppescan-api")(handler)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// Streams push their own per-chunk write deadlines past this.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	sweep := sweeper.New(deps.Storage, deps.Tracker, sweeper.Config{
		MaxAge:     cfg.RetentionMaxAge,
		TrackerTTL: cfg.TrackerTTL,
		OnDelete:   deliverySvc.Forget,
	})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweep.Run(bgCtx, cfg.RetentionInterval)
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if local != nil {
					metrics.SetJobsInQueue("local", local.Pending())
				}
				if deps.Leases != nil {
					metrics.SetInferenceLeases(deps.Leases.Active())
				}
			case <-bgCtx.Done():
				return
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "url", cfg.BaseURL)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		log.Error("forced server shutdown", "error", err)
	}

	stopBackground()
	<-sweepDone

	if local != nil {
		log.Info("draining background jobs", "pending", local.Pending())
		if err := local.Shutdown(shutdownCtx); err != nil {
			log.Error("background jobs cancelled at shutdown", "error", err)
		}
	}

	log.Info("server stopped gracefully")
	return nil
}

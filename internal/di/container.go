// Package di builds the shared runtime dependencies of the api, worker and
// cleanup binaries from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/config"
	"github.com/abdul-hamid-achik/ppescan/internal/health"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/processor"
	"github.com/abdul-hamid-achik/ppescan/internal/processor/detect"
	"github.com/abdul-hamid-achik/ppescan/internal/processor/video"
	"github.com/abdul-hamid-achik/ppescan/internal/storage"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// Container holds the dependencies built from a Config. Optional clients
// are nil when the configuration does not need them.
type Container struct {
	Storage   storage.Storage
	Tracker   tracker.Tracker
	Redis     *redis.Client
	DB        *pgxpool.Pool
	Processor *pipeline.Processor
	Leases    *processor.Pool
	Registry  *processor.Registry
	Health    *health.Checker
}

type Options struct {
	// WithInference builds the Background Processor. The cleanup binary
	// does not need it.
	WithInference bool
}

// Build connects to every configured backend. On error, whatever was opened
// is closed again.
func Build(ctx context.Context, cfg *config.Config, opts Options) (c *Container, err error) {
	log := logger.FromContext(ctx)
	c = &Container{}
	defer func() {
		if err != nil {
			c.Cleanup()
			c = nil
		}
	}()

	log.Info("connecting to object storage")
	store, err := storage.NewMinIOStorage(&storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := store.EnsureBucket(cctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}
	c.Storage = metrics.NewInstrumentedStorage(store)
	log.Info("object storage connected", "bucket", cfg.MinIOBucket)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		c.Redis = redis.NewClient(opt)
		if err := c.Redis.Ping(cctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("redis connected")
	}

	if cfg.TrackerBackend == config.TrackerPostgres {
		c.DB, err = pgxpool.New(cctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := c.DB.Ping(cctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info("database connected")
	}

	c.Tracker, err = openTracker(cctx, cfg, c)
	if err != nil {
		return nil, err
	}
	log.Info("job tracker ready", "backend", cfg.TrackerBackend)

	c.Health = health.NewChecker(c.DB, c.Redis).WithStorage(c.Storage)

	if opts.WithInference {
		if err := c.buildProcessor(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func openTracker(ctx context.Context, cfg *config.Config, c *Container) (tracker.Tracker, error) {
	switch cfg.TrackerBackend {
	case config.TrackerRedis:
		return tracker.NewRedis(c.Redis, cfg.TrackerTTL), nil
	case config.TrackerPostgres:
		pg := tracker.NewPostgres(c.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare job table: %w", err)
		}
		return pg, nil
	case config.TrackerMemory:
		return tracker.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown tracker backend %q", cfg.TrackerBackend)
	}
}

func (c *Container) buildProcessor(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx)
	procCfg := processor.DefaultConfig()

	var detector processor.Processor
	var err error
	switch cfg.InferenceMode {
	case config.InferenceCommand:
		detector, err = detect.NewCommandDetector(cfg.InferenceCommand, procCfg)
	default:
		detector, err = detect.NewHTTPDetector(cfg.InferenceURL, procCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	// Detection runs first; the transcoder joins the video chain after it.
	c.Registry = processor.NewRegistry()
	c.Registry.Register(detector)

	vcfg := video.DefaultConfig()
	vcfg.Config = procCfg
	vcfg.FFmpegPath = cfg.FFmpegPath
	vcfg.FFprobePath = cfg.FFprobePath
	ff, err := video.NewFFmpegTranscoder(vcfg)
	switch {
	case err == nil:
		c.Registry.Register(ff)
	case errors.Is(err, video.ErrFFmpegNotFound), errors.Is(err, video.ErrFFprobeNotFound):
		log.Warn("ffmpeg unavailable, annotated videos are stored as produced", "error", err)
	default:
		return fmt.Errorf("failed to create transcoder: %w", err)
	}

	adapter := processor.NewAdapter(c.Registry, procCfg)
	c.Leases = processor.NewPool(cfg.InferenceMaxSessions, adapter)
	c.Processor = pipeline.New(c.Storage, c.Tracker, adapter, c.Leases, pipeline.Config{
		TempDir:         procCfg.TempDir,
		JobTimeout:      cfg.JobTimeout,
		VideoJobTimeout: cfg.VideoJobTimeout,
		DeleteOriginal:  cfg.DeleteOriginal,
	})
	log.Info("inference ready",
		"mode", cfg.InferenceMode,
		"processors", c.Registry.List(),
		"max_sessions", cfg.InferenceMaxSessions,
	)
	return nil
}

// Cleanup closes the connections Build opened.
func (c *Container) Cleanup() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	TrackerMemory   = "memory"
	TrackerRedis    = "redis"
	TrackerPostgres = "postgres"

	DispatchLocal = "local"
	DispatchQueue = "queue"

	InferenceHTTP    = "http"
	InferenceCommand = "command"
)

type Config struct {
	Port          int
	MaxUploadSize int64
	BaseURL       string

	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIORegion    string

	TrackerBackend string
	TrackerTTL     time.Duration

	DispatchMode      string
	WorkerConcurrency int
	QueueSize         int
	JobTimeout        time.Duration
	VideoJobTimeout   time.Duration
	DeleteOriginal    bool

	// Inference
	InferenceMode        string
	InferenceURL         string
	InferenceCommand     string
	InferenceMaxSessions int
	FFmpegPath           string
	FFprobePath          string

	// Delivery
	PresignExpiry      time.Duration
	StreamChunkTimeout time.Duration

	// Upload throttling per client, zero disables it.
	UploadRateLimit int
	UploadRateBurst int

	// Retention
	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration
	RetentionGrace    time.Duration

	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64
	MetricsPort     int
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 8080)
	cfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 16*1024*1024)
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")

	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	if cfg.MinIOEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required")
	}

	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	if cfg.MinIOAccessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY is required")
	}

	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	if cfg.MinIOSecretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY is required")
	}

	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "ppe-media")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.MinIORegion = getEnvString("MINIO_REGION", "us-east-1")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.TrackerBackend = getEnvString("TRACKER_BACKEND", TrackerMemory)
	cfg.TrackerTTL, err = getEnvDuration("TRACKER_TTL", "24h")
	if err != nil {
		return nil, fmt.Errorf("invalid TRACKER_TTL: %w", err)
	}

	cfg.DispatchMode = getEnvString("DISPATCH_MODE", DispatchLocal)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.QueueSize = getEnvInt("QUEUE_SIZE", 64)
	cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", "5m")
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}
	cfg.VideoJobTimeout, err = getEnvDuration("VIDEO_JOB_TIMEOUT", "60m")
	if err != nil {
		return nil, fmt.Errorf("invalid VIDEO_JOB_TIMEOUT: %w", err)
	}
	cfg.DeleteOriginal = getEnvBool("DELETE_ORIGINAL", true)

	cfg.InferenceMode = getEnvString("INFERENCE_MODE", InferenceHTTP)
	cfg.InferenceURL = getEnvString("INFERENCE_URL", "http://localhost:8000")
	cfg.InferenceCommand = os.Getenv("INFERENCE_COMMAND")
	cfg.InferenceMaxSessions = getEnvInt("INFERENCE_MAX_SESSIONS", 2)
	cfg.FFmpegPath = getEnvString("FFMPEG_PATH", "ffmpeg")
	cfg.FFprobePath = getEnvString("FFPROBE_PATH", "ffprobe")

	cfg.PresignExpiry, err = getEnvDuration("PRESIGN_EXPIRY", "1h")
	if err != nil {
		return nil, fmt.Errorf("invalid PRESIGN_EXPIRY: %w", err)
	}
	cfg.StreamChunkTimeout, err = getEnvDuration("STREAM_CHUNK_TIMEOUT", "30s")
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_CHUNK_TIMEOUT: %w", err)
	}

	cfg.UploadRateLimit = getEnvInt("UPLOAD_RATE_LIMIT", 5)
	cfg.UploadRateBurst = getEnvInt("UPLOAD_RATE_BURST", 20)

	cfg.RetentionMaxAge, err = getEnvDuration("RETENTION_MAX_AGE", "1h")
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_MAX_AGE: %w", err)
	}
	cfg.RetentionInterval, err = getEnvDuration("RETENTION_INTERVAL", "1h")
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_INTERVAL: %w", err)
	}
	cfg.RetentionGrace, err = getEnvDuration("RETENTION_GRACE", "30m")
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_GRACE: %w", err)
	}

	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.TraceSampleRate = getEnvFloat("TRACE_SAMPLE_RATE", 1.0)
	cfg.MetricsPort = getEnvInt("METRICS_PORT", 9090)

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxUploadSize < 1 {
		return fmt.Errorf("invalid max upload size: %d", c.MaxUploadSize)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("invalid worker concurrency: %d", c.WorkerConcurrency)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("invalid queue size: %d", c.QueueSize)
	}

	if c.InferenceMaxSessions < 1 {
		return fmt.Errorf("invalid inference max sessions: %d", c.InferenceMaxSessions)
	}

	switch c.TrackerBackend {
	case TrackerMemory:
	case TrackerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for tracker backend %q", c.TrackerBackend)
		}
	case TrackerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for tracker backend %q", c.TrackerBackend)
		}
	default:
		return fmt.Errorf("unknown tracker backend: %q", c.TrackerBackend)
	}

	switch c.DispatchMode {
	case DispatchLocal:
	case DispatchQueue:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for dispatch mode %q", c.DispatchMode)
		}
		if c.TrackerBackend == TrackerMemory {
			return fmt.Errorf("dispatch mode %q needs a shared tracker backend, got %q", c.DispatchMode, c.TrackerBackend)
		}
	default:
		return fmt.Errorf("unknown dispatch mode: %q", c.DispatchMode)
	}

	switch c.InferenceMode {
	case InferenceHTTP:
		if c.InferenceURL == "" {
			return fmt.Errorf("INFERENCE_URL is required for inference mode %q", c.InferenceMode)
		}
	case InferenceCommand:
		if c.InferenceCommand == "" {
			return fmt.Errorf("INFERENCE_COMMAND is required for inference mode %q", c.InferenceMode)
		}
	default:
		return fmt.Errorf("unknown inference mode: %q", c.InferenceMode)
	}

	if c.UploadRateLimit < 0 || c.UploadRateBurst < 0 {
		return fmt.Errorf("upload rate limit and burst must not be negative")
	}

	if c.RetentionMaxAge <= 0 || c.RetentionInterval <= 0 {
		return fmt.Errorf("retention max age and interval must be positive")
	}

	if c.RetentionGrace < 0 {
		return fmt.Errorf("retention grace must not be negative")
	}

	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("invalid trace sample rate: %v", c.TraceSampleRate)
	}

	return nil
}

// OriginalRetention is how long a fresh original is shielded from the
// sweeper. The sweeper only looks at blobs older than RetentionMaxAge, so the
// marker has to outlast that threshold plus the longest job deadline;
// RetentionGrace covers time spent queued.
func (c *Config) OriginalRetention() time.Duration {
	longest := c.JobTimeout
	if c.VideoJobTimeout > longest {
		longest = c.VideoJobTimeout
	}
	return c.RetentionMaxAge + longest + c.RetentionGrace
}

// JobTimeoutFor returns the processing deadline for a media kind.
func (c *Config) JobTimeoutFor(kind string) time.Duration {
	if kind == "video" {
		return c.VideoJobTimeout
	}
	return c.JobTimeout
}

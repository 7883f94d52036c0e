// Package api exposes ingestion and delivery over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/delivery"
	"github.com/abdul-hamid-achik/ppescan/internal/health"
	"github.com/abdul-hamid-achik/ppescan/internal/ingest"
)

type Config struct {
	Ingest   *ingest.Service
	Delivery *delivery.Service
	Health   *health.Checker
	// BaseURL prefixes the status_url returned after an upload.
	BaseURL       string
	MaxUploadSize int64
	// StreamChunkTimeout bounds how long a single chunk may take to be
	// fetched from storage and written to the client.
	StreamChunkTimeout time.Duration
	// UploadLimiter throttles uploads per client. Nil disables it.
	UploadLimiter Limiter
}

func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	checker := cfg.Health
	if checker == nil {
		checker = health.NewChecker(nil, nil)
	}
	mux.HandleFunc("GET /health", health.HealthHandler(checker))
	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", health.ReadinessHandler(checker))

	var upload http.Handler = uploadHandler(cfg)
	if cfg.UploadLimiter != nil {
		upload = RateLimit(cfg.UploadLimiter)(upload)
	}
	mux.Handle("POST /{$}", upload)
	mux.Handle("POST /v1/upload", upload)

	mux.HandleFunc("GET /v1/jobs/{jobKey}", jobStatusHandler(cfg))
	mux.HandleFunc("GET /result/{outputKey}", resultHandler(cfg))

	// GET patterns also answer HEAD.
	mux.HandleFunc("GET /stream/{outputKey}", streamHandler(cfg))
	mux.HandleFunc("GET /download/{outputKey}", downloadHandler(cfg))

	return mux
}

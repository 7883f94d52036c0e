package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const checkTimeout = 5 * time.Second

type StorageHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status       Status            `json:"status"`
	Components   []ComponentHealth `json:"components,omitempty"`
	LatencyP95Ms int64             `json:"latency_p95_ms"`
	Timestamp    time.Time         `json:"timestamp"`
}

type healthCheck struct {
	name string
	fn   func(context.Context) error
}

// Checker pings the backing services this process was configured with.
// Only the dependencies actually in use are registered.
type Checker struct {
	checks []healthCheck
}

func NewChecker(pool *pgxpool.Pool, redisClient *redis.Client) *Checker {
	c := &Checker{}
	if pool != nil {
		c.With("database", pool.Ping)
	}
	if redisClient != nil {
		c.With("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	return c
}

func (c *Checker) WithStorage(s StorageHealthChecker) *Checker {
	if s == nil {
		return c
	}
	return c.With("storage", s.HealthCheck)
}

// With registers an additional named check.
func (c *Checker) With(name string, fn func(context.Context) error) *Checker {
	c.checks = append(c.checks, healthCheck{name: name, fn: fn})
	return c
}

func (c *Checker) CheckAll(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var wg sync.WaitGroup
	components := make([]ComponentHealth, len(c.checks))
	for i, p := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			components[i] = run(ctx, p)
		}()
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	status := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
	}

	return HealthResponse{
		Status:       status,
		Components:   components,
		LatencyP95Ms: metrics.GetLatencyP95(),
		Timestamp:    time.Now(),
	}
}

func run(ctx context.Context, p healthCheck) ComponentHealth {
	start := time.Now()
	err := p.fn(ctx)
	comp := ComponentHealth{
		Name:    p.name,
		Status:  StatusHealthy,
		Latency: time.Since(start).Milliseconds(),
	}
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	}
	return comp
}

func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func ReadinessHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func HealthHandler(checker *Checker) http.HandlerFunc {
	return ReadinessHandler(checker)
}

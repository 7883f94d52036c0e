// Package sweeper reclaims blobs older than a configured age.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/storage"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
)

type Config struct {
	// MaxAge is how long a blob may live after its last modification.
	MaxAge time.Duration
	// TrackerTTL prunes finished jobs from trackers that do not expire
	// entries themselves. Zero disables pruning.
	TrackerTTL time.Duration
	// OnDelete is called with each deleted key.
	OnDelete func(key string)
}

type Stats struct {
	Scanned      int
	Deleted      int
	Retained     int
	DeleteErrors int
	JobsPruned   int
}

type Sweeper struct {
	storage storage.Storage
	tracker tracker.Tracker
	config  Config
	now     func() time.Time
}

// New builds a Sweeper. jobs may be nil when only blobs should be reclaimed.
func New(store storage.Storage, jobs tracker.Tracker, cfg Config) *Sweeper {
	return &Sweeper{storage: store, tracker: jobs, config: cfg, now: time.Now}
}

// Sweep deletes every blob whose age exceeds MaxAge, except blobs whose
// retain-until marker is still in the future. Individual delete failures are
// counted and logged; only a failed listing aborts the run.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	log := logger.FromContext(ctx)
	start := s.now()
	cutoff := start.Add(-s.config.MaxAge)
	var stats Stats

	objects, err := s.storage.List(ctx, "")
	if err != nil {
		metrics.RecordSweep("error", 0, 0, 0)
		return stats, fmt.Errorf("list objects: %w", err)
	}

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			metrics.RecordSweep("cancelled", stats.Scanned, stats.Deleted, stats.Retained)
			return stats, err
		}
		stats.Scanned++
		if !obj.LastModified.Before(cutoff) {
			continue
		}

		// Listings do not always carry user metadata, so aged candidates are
		// re-read before deletion.
		info, err := s.storage.Stat(ctx, obj.Key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn("failed to stat object", "key", obj.Key, "error", err)
			stats.DeleteErrors++
			continue
		}
		if info.Retained(start) {
			stats.Retained++
			log.Debug("object retained", "key", obj.Key, "retain_until", info.RetainUntil)
			continue
		}

		if err := s.storage.Delete(ctx, obj.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warn("failed to delete object", "key", obj.Key, "error", err)
			stats.DeleteErrors++
			continue
		}
		stats.Deleted++
		log.Debug("deleted stale object", "key", obj.Key, "age", start.Sub(obj.LastModified).Round(time.Second).String())
		if s.config.OnDelete != nil {
			s.config.OnDelete(obj.Key)
		}
	}

	if pruner, ok := s.tracker.(tracker.Pruner); ok && s.config.TrackerTTL > 0 {
		n, err := pruner.Prune(ctx, start.Add(-s.config.TrackerTTL))
		metrics.RecordTrackerOperation("prune", err)
		if err != nil {
			log.Warn("failed to prune finished jobs", "error", err)
		}
		stats.JobsPruned = n
	}

	metrics.RecordSweep("success", stats.Scanned, stats.Deleted, stats.Retained)
	log.Info("sweep completed",
		"duration_ms", s.now().Sub(start).Milliseconds(),
		"scanned", stats.Scanned,
		"deleted", stats.Deleted,
		"retained", stats.Retained,
		"delete_errors", stats.DeleteErrors,
		"jobs_pruned", stats.JobsPruned,
	)
	return stats, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	log := logger.FromContext(ctx)
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Package tracker records the processing status of each accepted upload.
//
// A job is created as processing and moves exactly once to completed or
// error. A later upload reusing the same key replaces the entry outright and
// gets a new attempt id, so the processor of the replaced upload can no
// longer finalize it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	// StatusNotFound is never stored. The API reports it for keys the
	// tracker has no record of.
	StatusNotFound Status = "not_found"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	ErrNotFound          = errors.New("tracker: job not found")
	ErrTerminal          = errors.New("tracker: job already finished")
	ErrSuperseded        = errors.New("tracker: job replaced by a newer upload")
	ErrInvalidTransition = errors.New("tracker: invalid status transition")
	ErrInvalidJob        = errors.New("tracker: invalid job")
)

type Job struct {
	Key       string     `json:"key"`
	Attempt   string     `json:"attempt"`
	InputKey  string     `json:"input_key"`
	OutputKey string     `json:"output_key"`
	Kind      media.Kind `json:"kind"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Tracker interface {
	// Create registers a job as processing, replacing any entry under the same key.
	Create(ctx context.Context, job Job) error
	// SetStatus finalizes the processing job created with attempt. Only
	// completed and error are accepted. A job that already finished returns
	// ErrTerminal; an entry created by a different attempt returns ErrSuperseded.
	SetStatus(ctx context.Context, key, attempt string, status Status, reason string) error
	Get(ctx context.Context, key string) (Job, error)
	// Status returns processing for unknown keys.
	Status(ctx context.Context, key string) (Status, error)
}

// Pruner is implemented by trackers that need explicit expiry of finished jobs.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

func prepare(job Job, now time.Time) (Job, error) {
	if job.Key == "" {
		return Job{}, fmt.Errorf("%w: empty key", ErrInvalidJob)
	}
	job.Status = StatusProcessing
	job.Error = ""
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	return job, nil
}

func checkTransition(status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: to %q", ErrInvalidTransition, status)
	}
	return nil
}

// statusFromGet folds a Get result into the Status contract.
func statusFromGet(job Job, err error) (Status, error) {
	if errors.Is(err, ErrNotFound) {
		return StatusProcessing, nil
	}
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Lookup resolves a key to a job, mapping unknown keys to a not_found
// placeholder instead of an error.
func Lookup(ctx context.Context, t Tracker, key string) (Job, error) {
	job, err := t.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Job{Key: key, Status: StatusNotFound}, nil
	}
	return job, err
}

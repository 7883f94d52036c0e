// Package pipeline runs one accepted upload through download, inference and
// upload of the annotated result, then records the outcome in the tracker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/processor"
	"github.com/abdul-hamid-achik/ppescan/internal/storage"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
)

const cleanupTimeout = 30 * time.Second

var (
	ErrInvalidTask   = errors.New("pipeline: invalid task")
	ErrEmptyOriginal = errors.New("pipeline: original is empty")
	ErrPanic         = errors.New("pipeline: processing panicked")
)

// Task identifies the blobs and tracker entry of one job. Attempt is the id
// the tracker entry was created with; only that attempt may finalize it.
type Task struct {
	JobKey    string     `json:"job_key"`
	Attempt   string     `json:"attempt"`
	InputKey  string     `json:"input_key"`
	OutputKey string     `json:"output_key"`
	Kind      media.Kind `json:"kind"`
}

func (t Task) Validate() error {
	switch {
	case t.JobKey == "":
		return fmt.Errorf("%w: missing job key", ErrInvalidTask)
	case t.InputKey == "" || t.OutputKey == "":
		return fmt.Errorf("%w: missing blob key", ErrInvalidTask)
	case t.InputKey == t.OutputKey:
		return fmt.Errorf("%w: input and output keys are equal", ErrInvalidTask)
	case !t.Kind.Valid():
		return fmt.Errorf("%w: kind %q", ErrInvalidTask, t.Kind)
	}
	return nil
}

// Inferer is the media inference adapter as seen by the pipeline.
type Inferer interface {
	Infer(ctx context.Context, input io.Reader, opts *processor.Options) (*processor.Result, error)
}

type Config struct {
	TempDir         string
	JobTimeout      time.Duration
	VideoJobTimeout time.Duration
	DeleteOriginal  bool
}

func DefaultConfig() Config {
	return Config{
		JobTimeout:      5 * time.Minute,
		VideoJobTimeout: 60 * time.Minute,
		DeleteOriginal:  true,
	}
}

func (c Config) timeoutFor(kind media.Kind) time.Duration {
	if kind == media.KindVideo && c.VideoJobTimeout > 0 {
		return c.VideoJobTimeout
	}
	return c.JobTimeout
}

type Processor struct {
	storage storage.Storage
	tracker tracker.Tracker
	inferer Inferer
	leases  *processor.Pool
	config  Config
}

// New builds a Processor. leases may be nil, in which case inference is not
// bounded beyond the dispatcher's own concurrency.
func New(store storage.Storage, jobs tracker.Tracker, inferer Inferer, leases *processor.Pool, cfg Config) *Processor {
	return &Processor{
		storage: store,
		tracker: jobs,
		inferer: inferer,
		leases:  leases,
		config:  cfg,
	}
}

// run holds the resources of a single job so the finalizer can release
// whatever was acquired before a failure.
type run struct {
	task     Task
	original *processor.SpoolFile
	result   *processor.Result
	lease    *processor.Lease
}

// Run processes task and returns the failure, if any, that moved the job to
// error. The tracker is always left in a terminal state, including when the
// job panics or its deadline passes.
func (p *Processor) Run(ctx context.Context, task Task) (err error) {
	if verr := task.Validate(); verr != nil {
		if task.JobKey != "" {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			p.markError(logger.WithJobKey(cctx, task.JobKey), task, verr)
			cancel()
		}
		return verr
	}

	ctx = logger.WithJobKey(ctx, task.JobKey)
	log := logger.FromContext(ctx).With("input_key", task.InputKey, "output_key", task.OutputKey, "kind", task.Kind.String())
	ctx = logger.WithLogger(ctx, log)

	ctx, span := tracing.StartJobSpan(ctx, task.Kind.String(), task.JobKey)
	if timeout := p.config.timeoutFor(task.Kind); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log.Info("job started")
	start := time.Now()
	r := &run{task: task}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
		p.finalize(ctx, r, err, start)
		tracing.EndSpan(span, err)
	}()

	return p.execute(ctx, r)
}

func (p *Processor) execute(ctx context.Context, r *run) error {
	log := logger.FromContext(ctx)
	task := r.task
	kind := task.Kind.String()

	if err := p.stage(ctx, "download", kind, func(ctx context.Context) error {
		reader, err := p.storage.Download(ctx, task.InputKey)
		if err != nil {
			return fmt.Errorf("failed to download original %s: %w", task.InputKey, err)
		}
		defer func() { _ = reader.Close() }()

		r.original, err = processor.Spool(p.config.TempDir, "original-*", reader)
		if err != nil {
			return fmt.Errorf("failed to buffer original: %w", err)
		}
		if r.original.Size() == 0 {
			return ErrEmptyOriginal
		}
		return nil
	}); err != nil {
		return err
	}
	log.Debug("original buffered", "size", r.original.Size())

	if err := p.stage(ctx, "infer", kind, func(ctx context.Context) error {
		if p.leases != nil {
			lease, err := p.leases.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("failed to acquire inference session: %w", err)
			}
			r.lease = lease
			metrics.SetInferenceLeases(p.leases.Active())
		}

		res, err := p.inferer.Infer(ctx, r.original, &processor.Options{Kind: task.Kind, Filename: task.InputKey})
		p.releaseLease(ctx, r)
		if err != nil {
			return fmt.Errorf("inference failed: %w", err)
		}
		r.result = res
		return nil
	}); err != nil {
		return err
	}

	if r.result == nil || r.result.Size <= 0 {
		return processor.ErrEmptyResult
	}
	log.Debug("inference finished", "output_size", r.result.Size)

	contentType := media.ContentTypeFor(task.OutputKey)
	if err := p.stage(ctx, "upload", kind, func(ctx context.Context) error {
		if err := p.storage.Upload(ctx, task.OutputKey, r.result.Data, contentType, r.result.Size); err != nil {
			return fmt.Errorf("failed to upload result %s: %w", task.OutputKey, err)
		}
		return nil
	}); err != nil {
		return err
	}

	err := p.tracker.SetStatus(ctx, task.JobKey, task.Attempt, tracker.StatusCompleted, "")
	metrics.RecordTrackerOperation("set_status", err)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// stage runs fn under its own span and records its duration.
func (p *Processor) stage(ctx context.Context, name, kind string, fn func(context.Context) error) error {
	ctx, span := tracing.StartStageSpan(ctx, name)
	start := time.Now()
	err := fn(ctx)
	metrics.RecordJobStage(kind, name, time.Since(start).Seconds())
	tracing.EndSpan(span, err)
	if err != nil {
		logger.FromContext(ctx).Error("stage failed", "stage", name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	}
	return err
}

func (p *Processor) releaseLease(ctx context.Context, r *run) {
	if r.lease == nil {
		return
	}
	r.lease.Release(ctx)
	r.lease = nil
	metrics.SetInferenceLeases(p.leases.Active())
}

// finalize runs on every exit path. It uses a detached context because the
// job context may already be cancelled or past its deadline.
func (p *Processor) finalize(ctx context.Context, r *run, err error, start time.Time) {
	log := logger.FromContext(ctx)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	p.releaseLease(cctx, r)
	if r.result != nil {
		if cerr := r.result.Close(); cerr != nil {
			log.Warn("failed to release result buffer", "error", cerr)
		}
	}
	if r.original != nil {
		if cerr := r.original.Close(); cerr != nil {
			log.Warn("failed to release original buffer", "error", cerr)
		}
	}

	status := "completed"
	switch {
	case errors.Is(err, tracker.ErrSuperseded):
		status = "superseded"
	case err != nil:
		status = "error"
		if p.markError(cctx, r.task, err) {
			status = "superseded"
		}
	}

	// A newer upload may have stored its original under the same name.
	if p.config.DeleteOriginal && status != "superseded" {
		if derr := p.storage.Delete(cctx, r.task.InputKey); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			log.Warn("failed to delete original", "error", derr)
		}
	}

	duration := time.Since(start)
	metrics.RecordJobProcessed(r.task.Kind.String(), status, duration.Seconds())
	if status == "superseded" {
		log.Warn("job key reused by a newer upload, outcome not recorded", "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	if err != nil {
		log.Error("job failed", "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	log.Info("job completed", "duration_ms", duration.Milliseconds())
}

// markError records cause on the tracker entry and reports whether the entry
// now belongs to a newer upload.
func (p *Processor) markError(ctx context.Context, task Task, cause error) (superseded bool) {
	err := p.tracker.SetStatus(ctx, task.JobKey, task.Attempt, tracker.StatusError, cause.Error())
	metrics.RecordTrackerOperation("set_status", err)
	switch {
	case err == nil, errors.Is(err, tracker.ErrTerminal):
	case errors.Is(err, tracker.ErrSuperseded):
		return true
	default:
		logger.FromContext(ctx).Error("failed to mark job as error", "error", err)
	}
	return false
}

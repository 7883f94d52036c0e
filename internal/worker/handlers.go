package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
)

// Runner is the Background Processor.
type Runner interface {
	Run(ctx context.Context, task pipeline.Task) error
}

type Dependencies struct {
	Runner  Runner
	Tracker tracker.Tracker
}

// DetectHandler consumes ppe.detect jobs. Every failure is permanent: the
// pipeline has already recorded it in the tracker, and a retry of a finished
// job could only be rejected.
func DetectHandler(deps *Dependencies) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		log := logger.FromContext(ctx).With("queue_job_id", j.ID, "job_type", JobTypeDetect)

		var payload DetectPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			log.Error("invalid payload", "error", err)
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}

		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx = logger.WithLogger(ctx, log)
		task := payload.Task()
		if err := task.Validate(); err != nil {
			log.Error("invalid task", "error", err)
			return middleware.Permanent(err)
		}

		tracked, err := deps.Tracker.Get(ctx, task.JobKey)
		switch {
		case errors.Is(err, tracker.ErrNotFound):
			log.Warn("job no longer tracked, dropping", "job_key", task.JobKey)
			return middleware.Permanent(fmt.Errorf("job %s: %w", task.JobKey, err))
		case err != nil:
			// Tracker outage: let the queue retry.
			return fmt.Errorf("failed to load job %s: %w", task.JobKey, err)
		case tracked.Status.Terminal():
			log.Info("job already finished, skipping redelivery", "job_key", task.JobKey, "status", tracked.Status)
			return nil
		case tracked.Attempt != task.Attempt || tracked.InputKey != task.InputKey:
			log.Warn("job key reused by a newer upload, dropping", "job_key", task.JobKey)
			return nil
		}

		if !payload.EnqueuedAt.IsZero() {
			log.Debug("job dequeued", "job_key", task.JobKey, "wait_ms", time.Since(payload.EnqueuedAt).Milliseconds())
		}

		if err := deps.Runner.Run(ctx, task); err != nil {
			return middleware.Permanent(err)
		}
		return nil
	}
}

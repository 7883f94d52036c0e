package dispatch

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
	"github.com/abdul-hamid-achik/ppescan/internal/worker"
)

const queueMode = "queue"

// Enqueuer is satisfied by the job-queue Redis streams broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// Queue publishes tasks to Redis streams for cmd/worker to consume.
type Queue struct {
	broker Enqueuer
}

func NewQueue(b Enqueuer) *Queue {
	return &Queue{broker: b}
}

func (q *Queue) Dispatch(ctx context.Context, task pipeline.Task) error {
	ctx, span := tracing.StartDispatchSpan(ctx, queueMode, task.JobKey)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	payload := worker.NewDetectPayload(task, tracing.InjectTraceContext(ctx))
	j, err := job.New(worker.JobTypeDetect, payload)
	if err != nil {
		metrics.RecordJobDispatched(queueMode, "error")
		return fmt.Errorf("failed to create job: %w", err)
	}

	if err = q.broker.Enqueue(ctx, j); err != nil {
		metrics.RecordJobDispatched(queueMode, "error")
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.RecordJobDispatched(queueMode, "queued")
	logger.FromContext(ctx).Debug("job enqueued", "queue_job_id", j.ID, "job_key", task.JobKey)
	return nil
}

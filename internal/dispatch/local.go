package dispatch

import (
	"context"
	"sync"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
)

const localQueue = "local"

type envelope struct {
	// ctx carries the request's logger and trace but not its cancellation.
	ctx  context.Context
	task pipeline.Task
}

// Local runs tasks on a fixed set of goroutines fed by a bounded channel.
// Dispatch never blocks: when every slot is taken it fails with ErrQueueFull.
type Local struct {
	runner Runner
	jobs   chan envelope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewLocal(runner Runner, workers, queueSize int) *Local {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		runner: runner,
		jobs:   make(chan envelope, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.work(i)
	}
	metrics.SetWorkerPoolSize(workers)
	return l
}

func (l *Local) Dispatch(ctx context.Context, task pipeline.Task) error {
	ctx, span := tracing.StartDispatchSpan(ctx, localQueue, task.JobKey)
	defer span.End()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		metrics.RecordJobDispatched(localQueue, "closed")
		return ErrClosed
	}

	select {
	case l.jobs <- envelope{ctx: context.WithoutCancel(ctx), task: task}:
		metrics.RecordJobDispatched(localQueue, "queued")
		metrics.SetJobsInQueue(localQueue, len(l.jobs))
		return nil
	default:
		metrics.RecordJobDispatched(localQueue, "rejected")
		return ErrQueueFull
	}
}

// Pending reports how many tasks are waiting for a worker.
func (l *Local) Pending() int {
	return len(l.jobs)
}

func (l *Local) work(id int) {
	defer l.wg.Done()
	for env := range l.jobs {
		metrics.SetJobsInQueue(localQueue, len(l.jobs))
		l.runOne(id, env)
	}
}

func (l *Local) runOne(id int, env envelope) {
	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	metrics.WorkerPoolActiveJobs.Inc()
	defer metrics.WorkerPoolActiveJobs.Dec()

	if err := l.runner.Run(ctx, env.task); err != nil {
		logger.FromContext(ctx).Debug("local worker finished job with error", "worker", id, "job_key", env.task.JobKey, "error", err)
	}
}

// Shutdown stops accepting work and waits for queued and running tasks. If
// ctx ends first, running tasks are cancelled, which moves them to error,
// and Shutdown waits for them to finalize before returning ctx's error.
func (l *Local) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.jobs)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}

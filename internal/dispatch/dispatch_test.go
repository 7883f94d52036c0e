package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner holds every task until release is closed.
type blockingRunner struct {
	started chan pipeline.Task
	release chan struct{}
	done    atomic.Int32
	ctxErrs atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan pipeline.Task, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, task pipeline.Task) error {
	r.started <- task
	select {
	case <-r.release:
	case <-ctx.Done():
		r.ctxErrs.Add(1)
	}
	r.done.Add(1)
	return ctx.Err()
}

func task(key string) pipeline.Task {
	return pipeline.Task{JobKey: key, InputKey: key + ".jpg", OutputKey: "processed_" + key + ".jpg", Kind: media.KindImage}
}

func TestLocal_DispatchDoesNotWait(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, 1, 1)
	defer func() {
		close(r.release)
		_ = l.Shutdown(context.Background())
	}()

	start := time.Now()
	require.NoError(t, l.Dispatch(context.Background(), task("a")))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case got := <-r.started:
		assert.Equal(t, "a", got.JobKey)
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}
}

func TestLocal_QueueFull(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, 1, 1)
	defer func() {
		close(r.release)
		_ = l.Shutdown(context.Background())
	}()

	require.NoError(t, l.Dispatch(context.Background(), task("running")))
	<-r.started
	require.NoError(t, l.Dispatch(context.Background(), task("queued")))
	assert.Equal(t, 1, l.Pending())

	err := l.Dispatch(context.Background(), task("rejected"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestLocal_RequestCancellationDoesNotAbortJob(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, 1, 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Dispatch(reqCtx, task("a")))
	<-r.started
	cancel()

	close(r.release)
	require.NoError(t, l.Shutdown(context.Background()))
	assert.Equal(t, int32(0), r.ctxErrs.Load(), "job saw the request's cancellation")
}

func TestLocal_ShutdownDrainsQueue(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, 2, 4)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.Dispatch(context.Background(), task(k)))
	}
	close(r.release)

	require.NoError(t, l.Shutdown(context.Background()))
	assert.Equal(t, int32(4), r.done.Load())
	assert.ErrorIs(t, l.Dispatch(context.Background(), task("late")), ErrClosed)
	assert.NoError(t, l.Shutdown(context.Background()), "second Shutdown should be a no-op")
}

func TestLocal_ShutdownDeadlineCancelsRunningJobs(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, 1, 1)

	require.NoError(t, l.Dispatch(context.Background(), task("slow")))
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), r.ctxErrs.Load())
	assert.Equal(t, int32(1), r.done.Load())
}

func TestLocal_ConcurrentDispatch(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	r.started = make(chan pipeline.Task, 200)
	l := NewLocal(r, 4, 200)

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Dispatch(context.Background(), task("k")); errors.Is(err, ErrQueueFull) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Shutdown(context.Background()))
	assert.Equal(t, int32(100), r.done.Load()+rejected.Load())
}

type fakeBroker struct {
	jobs []*job.Job
	err  error
}

func (b *fakeBroker) Enqueue(ctx context.Context, j *job.Job) error {
	if b.err != nil {
		return b.err
	}
	b.jobs = append(b.jobs, j)
	return nil
}

func TestQueue_Dispatch(t *testing.T) {
	b := &fakeBroker{}
	q := NewQueue(b)

	require.NoError(t, q.Dispatch(context.Background(), task("a")))
	require.Len(t, b.jobs, 1)

	var payload worker.DetectPayload
	require.NoError(t, b.jobs[0].UnmarshalPayload(&payload))
	assert.Equal(t, task("a"), payload.Task())
}

func TestQueue_DispatchError(t *testing.T) {
	q := NewQueue(&fakeBroker{err: errors.New("redis down")})
	err := q.Dispatch(context.Background(), task("a"))
	assert.ErrorContains(t, err, "redis down")
}

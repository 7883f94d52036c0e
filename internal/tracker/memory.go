package tracker

import (
	"context"
	"sync"
	"time"
)

type Memory struct {
	mu   sync.RWMutex
	jobs map[string]Job
	now  func() time.Time
}

var (
	_ Tracker = (*Memory)(nil)
	_ Pruner  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]Job),
		now:  time.Now,
	}
}

func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := prepare(job, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.jobs[job.Key] = job
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetStatus(ctx context.Context, key, attempt string, status Status, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkTransition(status); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[key]
	if !ok {
		return ErrNotFound
	}
	if job.Attempt != attempt {
		return ErrSuperseded
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}

	job.Status = status
	job.Error = reason
	job.UpdatedAt = m.now()
	m.jobs[key] = job
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[key]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (m *Memory) Status(ctx context.Context, key string) (Status, error) {
	return statusFromGet(m.Get(ctx, key))
}

// Prune drops finished jobs last updated before olderThan. Jobs still
// processing are kept.
func (m *Memory) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, job := range m.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(olderThan) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

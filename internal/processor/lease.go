package processor

import (
	"context"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"golang.org/x/sync/semaphore"
)

const unloadTimeout = 30 * time.Second

// Pool bounds how many inference sessions run at once. When the last active
// lease is returned the models are unloaded so idle workers give memory back.
type Pool struct {
	sem      *semaphore.Weighted
	unloader Unloader

	mu     sync.Mutex
	active int
}

func NewPool(maxSessions int, unloader Unloader) *Pool {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(maxSessions)),
		unloader: unloader,
	}
}

type Lease struct {
	pool *Pool
	once sync.Once
}

// Acquire blocks until a session is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	return &Lease{pool: p}, nil
}

func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Release returns the session. It is safe to call more than once. The unload
// runs on its own deadline so a cancelled job still frees model memory.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		p := l.pool
		defer p.sem.Release(1)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.active--
		if p.active > 0 || p.unloader == nil {
			return
		}

		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unloadTimeout)
		defer cancel()
		if err := p.unloader.Unload(uctx); err != nil {
			logger.FromContext(ctx).Warn("model unload failed", "error", err)
		}
	})
}

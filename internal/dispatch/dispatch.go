// Package dispatch hands accepted jobs to background processing without
// waiting for them to run.
package dispatch

import (
	"context"
	"errors"

	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
)

var (
	ErrQueueFull = errors.New("dispatch: queue is full")
	ErrClosed    = errors.New("dispatch: dispatcher is shut down")
)

// Dispatcher schedules a task and returns as soon as it is queued.
type Dispatcher interface {
	Dispatch(ctx context.Context, task pipeline.Task) error
}

// Runner executes one task to completion.
type Runner interface {
	Run(ctx context.Context, task pipeline.Task) error
}

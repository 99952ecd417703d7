// Package scheduler implements the two concurrency models a server can run
// its calls under:
//
//   - WorkerPool: a fixed set of worker goroutines, each running one call to
//     completion. Calls beyond the pool size wait in an unbounded FIFO queue.
//   - EventLoop: a single turn shared by all in-flight calls. Only the task
//     holding the turn executes; a task gives the turn away while it waits
//     inside Suspend, so many calls can be in flight with no two handler
//     bodies running at the same instant.
//
// The model is chosen once when a server is built and never changes for
// that server's lifetime.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrAbandoned is returned by Run when the caller's context ends before
	// the task finished. The task keeps running and its result is dropped.
	ErrAbandoned = errors.New("scheduler: call abandoned before completion")

	// ErrClosed is returned by Run once the scheduler has been closed.
	ErrClosed = errors.New("scheduler: closed")
)

// Model names a concurrency model.
type Model string

const (
	ModelPool        Model = "pool"
	ModelCooperative Model = "cooperative"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 10

// Task is one unit of work. The context it receives is never cancelled by the
// caller; see Run.
type Task func(ctx context.Context)

// Scheduler runs tasks under one concurrency model.
type Scheduler interface {
	// Run executes task and blocks until it has finished or ctx is done.
	//
	// Caller cancellation is not propagated into the task: it runs with a
	// context derived from ctx via context.WithoutCancel. If ctx ends first,
	// Run returns ErrAbandoned.
	Run(ctx context.Context, task Task) error

	// Close stops accepting tasks. Tasks already executing are not
	// interrupted.
	Close()

	// Model reports which concurrency model the scheduler implements.
	Model() Model

	// InFlight returns the number of accepted tasks that have not finished,
	// queued ones included.
	InFlight() int
}

// ParseModel converts a configuration string into a Model.
func ParseModel(s string) (Model, error) {
	switch Model(strings.ToLower(strings.TrimSpace(s))) {
	case ModelPool, "thread-pool", "blocking":
		return ModelPool, nil
	case ModelCooperative, "async", "event-loop":
		return ModelCooperative, nil
	default:
		return "", fmt.Errorf("unknown concurrency model %q (expected %s or %s)", s, ModelPool, ModelCooperative)
	}
}

// Option configures a scheduler.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the scheduler for model. workers is only used by the pool model;
// values below 1 fall back to DefaultWorkers.
func New(model Model, workers int, opts ...Option) (Scheduler, error) {
	switch model {
	case ModelPool:
		if workers < 1 {
			workers = DefaultWorkers
		}
		return NewWorkerPool(workers, opts...), nil
	case ModelCooperative:
		return NewEventLoop(opts...), nil
	default:
		return nil, fmt.Errorf("unknown concurrency model %q", model)
	}
}

// runGuarded runs task and turns a panic into a log entry, so that a broken
// task cannot take down a worker or the event loop.
func runGuarded(ctx context.Context, task Task, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task(ctx)
}

// wait blocks until done is closed or ctx ends. A task that finished in the
// same instant the caller gave up still counts as finished.
func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
			return ErrAbandoned
		}
	}
}

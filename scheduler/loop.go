package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventLoop is the cooperative concurrency model.
//
// Every task gets its own goroutine but must hold the loop's single turn to
// execute, so task bodies never overlap. A task hands the turn back while it
// is inside Suspend and queues for it again afterwards; waiting tasks receive
// the turn in arrival order. The number of in-flight tasks is unbounded. A
// task that never suspends keeps the turn until it returns and starves the
// rest.
type EventLoop struct {
	turn   chan struct{} // holds the turn token when nobody executes
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	inflight atomic.Int64
	wg       sync.WaitGroup
}

// loopTask is the per-task state stored in the task's context.
type loopTask struct {
	loop *EventLoop
	held bool
}

type loopTaskKey struct{}

// NewEventLoop creates an event loop with its turn available.
func NewEventLoop(opts ...Option) *EventLoop {
	o := buildOptions(opts)
	l := &EventLoop{
		turn:   make(chan struct{}, 1),
		logger: o.logger.Named("loop"),
	}
	l.turn <- struct{}{}
	return l
}

// Run schedules task on the loop and waits for it to finish.
func (l *EventLoop) Run(ctx context.Context, task Task) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	l.inflight.Add(1)
	l.wg.Add(1)
	l.mu.RUnlock()

	t := &loopTask{loop: l}
	taskCtx := context.WithValue(context.WithoutCancel(ctx), loopTaskKey{}, t)
	done := make(chan struct{})

	go func() {
		defer l.wg.Done()
		defer l.inflight.Add(-1)
		defer close(done)

		t.acquire()
		defer t.release()
		runGuarded(taskCtx, task, l.logger)
	}()

	return wait(ctx, done)
}

func (t *loopTask) acquire() {
	<-t.loop.turn
	t.held = true
}

func (t *loopTask) release() {
	if t.held {
		t.held = false
		t.loop.turn <- struct{}{}
	}
}

// Close stops admitting tasks. Tasks already admitted run to completion.
func (l *EventLoop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Wait blocks until every admitted task has returned. Only meaningful after
// Close.
func (l *EventLoop) Wait() { l.wg.Wait() }

func (l *EventLoop) Model() Model { return ModelCooperative }

func (l *EventLoop) InFlight() int { return int(l.inflight.Load()) }

// Suspend runs fn as a suspension point of the current task.
//
// On an event loop the task gives up its turn while fn runs, letting other
// tasks execute, and takes the turn back before Suspend returns. Under any
// other model (or outside a task) fn is simply called. fn must not touch
// state shared with other tasks without its own synchronization, since it
// runs while another task may hold the turn.
//
// A task must not call Suspend from more than one goroutine at a time.
func Suspend(ctx context.Context, fn func()) {
	t, ok := ctx.Value(loopTaskKey{}).(*loopTask)
	if !ok || !t.held {
		fn()
		return
	}
	t.release()
	defer t.acquire()
	fn()
}

// Sleep pauses the current task for d as a suspension point. It returns early
// with ctx.Err() if ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	var err error
	Suspend(ctx, func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

package scheduler

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// job is one queued Run invocation.
type job struct {
	ctx     context.Context
	task    Task
	done    chan struct{}
	dropped bool // set before done is closed when Close discards the job
}

// WorkerPool is the blocking concurrency model: a fixed number of workers,
// each executing one task at a time.
//
// Tasks that arrive while every worker is busy are queued in strict arrival
// order. The queue has no bound: saturation delays calls but never rejects
// them, and memory is the only limit on its length.
type WorkerPool struct {
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  list.List // of *job, FIFO
	closed bool

	busy atomic.Int64
	wg   sync.WaitGroup
}

// NewWorkerPool starts a pool of n workers (n < 1 is treated as 1).
func NewWorkerPool(n int, opts ...Option) *WorkerPool {
	if n < 1 {
		n = 1
	}
	o := buildOptions(opts)
	p := &WorkerPool{
		workers: n,
		logger:  o.logger.Named("pool"),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// Run queues task and waits for a worker to finish it.
func (p *WorkerPool) Run(ctx context.Context, task Task) error {
	j := &job{
		ctx:  context.WithoutCancel(ctx),
		task: task,
		done: make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue.PushBack(j)
	p.mu.Unlock()
	p.cond.Signal()

	if err := wait(ctx, j.done); err != nil {
		return err
	}
	if j.dropped {
		return ErrClosed
	}
	return nil
}

// worker pops jobs until the pool is closed.
func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.busy.Add(1)
		runGuarded(j.ctx, j.task, p.logger)
		p.busy.Add(-1)
		close(j.done)
	}
}

// next blocks until a job is available or the pool is closed.
func (p *WorkerPool) next() (*job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queue.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, false
	}
	return p.queue.Remove(p.queue.Front()).(*job), true
}

// Close stops the workers once their current task is done. Jobs still queued
// are released with ErrClosed.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var dropped []*job
	for e := p.queue.Front(); e != nil; e = e.Next() {
		dropped = append(dropped, e.Value.(*job))
	}
	p.queue.Init()
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, j := range dropped {
		j.dropped = true
		close(j.done)
	}
	if len(dropped) > 0 {
		p.logger.Warn("discarded queued calls on close", zap.Int("count", len(dropped)))
	}
}

// Wait blocks until every worker has exited. Only meaningful after Close.
func (p *WorkerPool) Wait() { p.wg.Wait() }

func (p *WorkerPool) Model() Model { return ModelPool }

// Workers returns the pool size.
func (p *WorkerPool) Workers() int { return p.workers }

// Busy returns the number of workers currently executing a task.
func (p *WorkerPool) Busy() int { return int(p.busy.Load()) }

// Queued returns the number of tasks waiting for a worker.
func (p *WorkerPool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *WorkerPool) InFlight() int { return p.Queued() + p.Busy() }

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseModel(t *testing.T) {
	cases := map[string]Model{
		"pool":        ModelPool,
		" Pool ":      ModelPool,
		"blocking":    ModelPool,
		"cooperative": ModelCooperative,
		"async":       ModelCooperative,
	}
	for in, want := range cases {
		got, err := ParseModel(in)
		if err != nil {
			t.Fatalf("ParseModel(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseModel(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseModel("threads"); err == nil {
		t.Fatal("expect error for unknown model")
	}
}

// trackConcurrency runs n tasks at once and reports the highest number of
// task bodies that overlapped.
func trackConcurrency(t *testing.T, s Scheduler, n int, body func(ctx context.Context)) int64 {
	t.Helper()
	var (
		current, peak atomic.Int64
		wg            sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Run(context.Background(), func(ctx context.Context) {
				c := current.Add(1)
				for {
					p := peak.Load()
					if c <= p || peak.CompareAndSwap(p, c) {
						break
					}
				}
				body(ctx)
				current.Add(-1)
			})
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}()
	}
	wg.Wait()
	return peak.Load()
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	peak := trackConcurrency(t, p, 16, func(context.Context) {
		time.Sleep(20 * time.Millisecond)
	})
	if peak > 4 {
		t.Fatalf("expect at most 4 concurrent tasks, got %d", peak)
	}
	if peak < 2 {
		t.Fatalf("expect tasks to run in parallel, peak was %d", peak)
	}
}

func TestWorkerPoolQueuesInsteadOfRejecting(t *testing.T) {
	p := NewWorkerPool(10)
	defer p.Close()

	var completed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Run(context.Background(), func(context.Context) {
				time.Sleep(50 * time.Millisecond)
				completed.Add(1)
			})
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}()
	}

	wg.Wait()
	if completed.Load() != 20 {
		t.Fatalf("expect 20 completed tasks, got %d", completed.Load())
	}
	if p.InFlight() != 0 {
		t.Fatalf("expect nothing in flight, got %d", p.InFlight())
	}
}

func TestWorkerPoolFIFO(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	// Occupy the single worker so the following tasks queue up in order.
	release := make(chan struct{})
	started := make(chan struct{})
	go p.Run(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.Run(context.Background(), func(context.Context) {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
			})
		}(i)
		// Wait until the task is queued before submitting the next one.
		for p.Queued() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("expect FIFO order, got %v", order)
		}
	}
}

func TestRunAbandonedKeepsTaskRunning(t *testing.T) {
	for _, s := range []Scheduler{NewWorkerPool(2), NewEventLoop()} {
		t.Run(string(s.Model()), func(t *testing.T) {
			defer s.Close()

			ctx, cancel := context.WithCancel(context.Background())
			finished := make(chan error, 1)
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()

			err := s.Run(ctx, func(taskCtx context.Context) {
				time.Sleep(80 * time.Millisecond)
				finished <- taskCtx.Err()
			})
			if !errors.Is(err, ErrAbandoned) {
				t.Fatalf("expect ErrAbandoned, got %v", err)
			}

			select {
			case taskErr := <-finished:
				if taskErr != nil {
					t.Fatalf("task context must not be cancelled, got %v", taskErr)
				}
			case <-time.After(time.Second):
				t.Fatal("task did not run to completion")
			}
		})
	}
}

func TestRunAfterClose(t *testing.T) {
	for _, s := range []Scheduler{NewWorkerPool(1), NewEventLoop()} {
		s.Close()
		err := s.Run(context.Background(), func(context.Context) {})
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("%s: expect ErrClosed, got %v", s.Model(), err)
		}
	}
}

func TestWorkerPoolCloseReleasesQueued(t *testing.T) {
	p := NewWorkerPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go p.Run(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started

	queued := make(chan error, 1)
	go func() {
		queued <- p.Run(context.Background(), func(context.Context) {
			t.Error("queued task must not run after Close")
		})
	}()
	for p.Queued() != 1 {
		time.Sleep(time.Millisecond)
	}

	p.Close()
	if err := <-queued; !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed for queued task, got %v", err)
	}
	close(release)
	p.Wait()
}

func TestEventLoopNeverOverlapsBodies(t *testing.T) {
	l := NewEventLoop()
	defer l.Close()

	peak := trackConcurrency(t, l, 20, func(ctx context.Context) {
		// Busy section without suspension: must be exclusive.
		time.Sleep(time.Millisecond)
	})
	if peak != 1 {
		t.Fatalf("expect exactly one task body at a time, got %d", peak)
	}
}

func TestEventLoopInterleavesAtSuspensionPoints(t *testing.T) {
	l := NewEventLoop()
	defer l.Close()

	var (
		running, peak atomic.Int64
		wg            sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Run(context.Background(), func(ctx context.Context) {
				// Counts tasks that started but have not finished; they
				// overlap only through suspension.
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				Sleep(ctx, 100*time.Millisecond)
				running.Add(-1)
			})
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("suspended tasks should overlap, took %s", elapsed)
	}
	if peak.Load() < 2 {
		t.Fatalf("expect several tasks in flight at once, peak was %d", peak.Load())
	}
}

func TestSuspendOutsideLoopCallsDirectly(t *testing.T) {
	called := false
	Suspend(context.Background(), func() { called = true })
	if !called {
		t.Fatal("expect fn to be called")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	for _, s := range []Scheduler{NewWorkerPool(1), NewEventLoop()} {
		t.Run(string(s.Model()), func(t *testing.T) {
			defer s.Close()

			if err := s.Run(context.Background(), func(context.Context) { panic("boom") }); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			ran := false
			if err := s.Run(context.Background(), func(context.Context) { ran = true }); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if !ran {
				t.Fatal("expect scheduler to keep working after a panic")
			}
		})
	}
}

package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func noop(ctx context.Context) error { return nil }

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(3, 6)
	p.Start(context.Background())

	var active, peak, done int32
	for i := 0; i < 30; i++ {
		err := p.Submit(func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&peak)
				if n <= m || atomic.CompareAndSwapInt32(&peak, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.AddInt32(&done, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	p.Close()

	if got := atomic.LoadInt32(&done); got != 30 {
		t.Fatalf("ran %d jobs, want 30", got)
	}
	if got := atomic.LoadInt32(&peak); got > 3 {
		t.Fatalf("%d jobs ran at once with 3 workers", got)
	}
}

func TestWorkerPoolCloseDrainsQueue(t *testing.T) {
	p := NewWorkerPool(2, 4)
	var ran int32
	for i := 0; i < 4; i++ {
		if err := p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}); err != nil {
			t.Fatalf("queue job %d: %v", i, err)
		}
	}

	p.Start(context.Background())
	p.Close()
	if got := atomic.LoadInt32(&ran); got != 4 {
		t.Fatalf("ran %d queued jobs, want 4", got)
	}
}

func TestWorkerPoolCloseReleasesBlockedSubmitter(t *testing.T) {
	// No workers: the single slot stays full and the next submit blocks.
	p := NewWorkerPool(1, 1)
	if err := p.Submit(noop); err != nil {
		t.Fatalf("fill queue: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- p.SubmitCtx(context.Background(), noop) }()
	time.Sleep(10 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("blocked submit returned %v, want ErrPoolClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not release the blocked submit")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close did not return")
	}
}

func TestWorkerPoolRejectsSubmitAfterClose(t *testing.T) {
	p := NewWorkerPool(1, 1)
	p.Start(context.Background())
	p.Close()
	p.Close()

	if err := p.Submit(noop); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("submit after close returned %v", err)
	}
}

func TestWorkerPoolSubmitCtxGivesUpOnCancel(t *testing.T) {
	p := NewWorkerPool(1, 1)
	defer p.Close()
	if err := p.Submit(noop); err != nil {
		t.Fatalf("fill queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.SubmitCtx(ctx, noop); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled submit returned %v", err)
	}
}

func TestWorkerPoolStopsWithContext(t *testing.T) {
	p := NewWorkerPool(2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked after the context was cancelled")
	}
}

package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	var done atomic.Int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) {
			done.Add(1)
		}
	}

	p := NewPool(WithWorkerCount(4))
	p.RunAll(context.Background(), tasks)

	if got := done.Load(); got != 20 {
		t.Fatalf("expected 20 completed tasks, got %d", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	var running, peak int

	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		}
	}

	p := NewPool(WithWorkerCount(3))
	p.RunAll(context.Background(), tasks)

	if peak > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, observed %d", peak)
	}
	if peak == 0 {
		t.Fatal("expected tasks to run")
	}
}

func TestPoolStopsSubmissionOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var done atomic.Int32
	tasks := make([]Task, 50)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) {
			done.Add(1)
			cancel()
			time.Sleep(time.Millisecond)
		}
	}

	p := NewPool(WithWorkerCount(1))
	p.RunAll(ctx, tasks)

	// The first task cancels the context; at most the tasks already handed
	// to the single worker can have run.
	if got := done.Load(); got > 2 {
		t.Fatalf("expected submission to stop after cancel, got %d completions", got)
	}
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	p := NewPool(WithWorkerCount(-1))
	if p.workerCount < 1 {
		t.Fatalf("expected at least one worker, got %d", p.workerCount)
	}
}

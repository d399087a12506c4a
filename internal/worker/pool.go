// Package worker provides the bounded fanout pool used when many servers
// are refreshed at once.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Task is one unit of fanout work. The pool passes its context through so
// tasks can honor cancellation.
type Task func(ctx context.Context)

type Pool struct {
	workerCount int
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		workerCount: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// RunAll executes the tasks with bounded concurrency and returns once every
// started task has finished. Cancelling the context stops submission; tasks
// not yet handed to a worker never run.
func (p *Pool) RunAll(ctx context.Context, tasks []Task) {
	if len(tasks) == 0 {
		return
	}

	jobs := make(chan Task)
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, jobs)
		}()
	}

submit:
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			break submit
		case jobs <- task:
		}
	}
	close(jobs)
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, jobs <-chan Task) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-jobs:
			if !ok {
				return
			}
			task(ctx)
		}
	}
}

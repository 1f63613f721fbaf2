// Package workers provides a bounded worker pool for fanning lookups out
// across many IPs. Rate limiting lives with each resolver, not here; the
// pool only bounds concurrency.
package workers

import (
	"context"
	"sync"
)

// Task is a unit of work executed by the pool.
type Task func(ctx context.Context) error

// Result pairs a submitted task's index with its outcome.
type Result struct {
	Index int
	Error error
}

// Pool runs tasks with bounded concurrency. Results arrive in completion
// order, not submission order.
type Pool struct {
	semaphore chan struct{}
	results   chan Result
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPool creates a pool that runs at most workers tasks concurrently.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		semaphore: make(chan struct{}, workers),
		results:   make(chan Result, workers*2),
		ctx:       poolCtx,
		cancel:    cancel,
	}
}

// Submit schedules a task. The index is echoed back in the task's Result.
func (p *Pool) Submit(index int, task Task) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.semaphore <- struct{}{}:
			defer func() { <-p.semaphore }()
		case <-p.ctx.Done():
			p.results <- Result{Index: index, Error: p.ctx.Err()}
			return
		}

		p.results <- Result{Index: index, Error: task(p.ctx)}
	}()
}

// Wait blocks until every submitted task finishes and returns their results
// in completion order.
func (p *Pool) Wait() []Result {
	go func() {
		p.wg.Wait()
		close(p.results)
	}()

	var results []Result
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Stop cancels tasks that have not yet acquired a worker slot.
func (p *Pool) Stop() {
	p.cancel()
}

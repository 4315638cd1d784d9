package concurrent

import (
	"context"
	"sync"
)

// WorkerPool bounds how many functions run at once.
type WorkerPool struct {
	maxWorkers int
	sem        chan struct{}
	wg         sync.WaitGroup
}

// NewWorkerPool creates a new worker pool with the specified max workers
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}
}

// Size returns the maximum number of concurrent workers.
func (wp *WorkerPool) Size() int { return wp.maxWorkers }

// Go waits for a free slot and then runs fn in its own goroutine.
// It returns ctx.Err() without running fn if ctx ends first.
func (wp *WorkerPool) Go(ctx context.Context, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case wp.sem <- struct{}{}:
	}
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.sem }()
		fn()
	}()
	return nil
}

// Wait blocks until every function started with Go has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// ParallelMap executes a function on each item in parallel and returns results
// in input order.
func ParallelMap[T, R any](ctx context.Context, items []T, fn func(T) (R, error), maxConcurrency int) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrency)

	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
				results[idx], errs[idx] = fn(val)
			}
		}(i, item)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

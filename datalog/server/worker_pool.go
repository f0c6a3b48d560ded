package server

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool runs independent jobs on a fixed number of goroutines.
// The server uses it to step the dataflows of outdated queries; each
// dataflow is single-threaded, distinct dataflows share nothing.
type WorkerPool struct {
	workerCount int
}

// NewWorkerPool creates a new worker pool
// workerCount: number of worker goroutines (0 = use NumCPU)
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}

// Execute runs job for every index in [0, n) and returns the error of
// each job by index. Jobs not yet started when ctx is cancelled are
// skipped and report ctx.Err().
func (p *WorkerPool) Execute(ctx context.Context, n int, job func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	jobs := make(chan int, n)
	workers := p.workerCount
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				errs[i] = job(ctx, i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	return errs
}

// WorkerCount returns the number of worker goroutines
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

package compactor

import "context"

// Executor bounds how many compaction sub-tasks run at once, offloading
// CPU-heavy compactKeyRange work off the caller's goroutine. It is a
// fixed-size goroutine pool fed by a buffered submission channel; when
// nil, sub-tasks are simply run on freshly spawned goroutines instead
// (the unbounded fallback the worker uses when no executor is wired).
type Executor struct {
	jobs chan func()
	done chan struct{}
}

// NewExecutor starts an Executor with the given number of worker
// goroutines and submission queue depth.
func NewExecutor(workers, queueDepth int) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < workers {
		queueDepth = workers
	}
	e := &Executor{
		jobs: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go e.runWorker()
	}
	return e
}

func (e *Executor) runWorker() {
	for {
		select {
		case job, ok := <-e.jobs:
			if !ok {
				return
			}
			job()
		case <-e.done:
			return
		}
	}
}

// Submit enqueues fn to run on a worker goroutine, blocking until a
// slot is free or ctx is cancelled.
func (e *Executor) Submit(ctx context.Context, fn func()) error {
	select {
	case e.jobs <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errExecutorClosed
	}
}

// Close stops accepting new work. In-flight jobs continue to
// completion.
func (e *Executor) Close() {
	close(e.done)
}

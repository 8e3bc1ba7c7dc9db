// Package serviceloop implements the compactor's long-running service
// loop: subscribe to the manager's compaction task stream, hand each
// received task to a detached handler goroutine so a slow compaction
// never stalls the receive loop, resubscribe on a 60-second tick or
// after any stream error, and exit cleanly when asked to stop.
package serviceloop

import (
	"context"
	"sync"
	"time"

	"github.com/streamkv/streamkv/internal/logging"
	"github.com/streamkv/streamkv/internal/manager"
)

// ResubscribeInterval is how often the loop tears down and re-opens
// its subscription even without an error, bounding how long a
// half-dead stream can go unnoticed.
const ResubscribeInterval = 60 * time.Second

// TaskHandler runs one compaction task to completion and reports its
// outcome to the manager.
type TaskHandler func(ctx context.Context, task manager.Task)

// Loop runs the compactor service loop: it subscribes to client's
// compaction task stream, dispatches every received task to handle on
// its own goroutine, and resubscribes every ResubscribeInterval or
// whenever Recv returns an error; an error that manager.IsTransient
// does not classify as transient is also logged. Loop returns when stop is
// closed or ctx is cancelled; it waits for every dispatched handler to
// finish before returning.
func Loop(ctx context.Context, stop <-chan struct{}, contextID uint64, client manager.Client, handle TaskHandler, logger logging.Logger) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		stream, err := client.SubscribeCompactTasks(ctx, contextID)
		if err != nil {
			if logger != nil {
				logger.Warnf("serviceloop: subscribe failed, retrying: %v", err)
			}
			if !sleepOrStop(ctx, stop, time.Second) {
				return
			}
			continue
		}

		if !receiveLoop(ctx, stop, stream, handle, &wg, logger) {
			return
		}
	}
}

// receiveLoop drains one subscription until it ticks over, errors, or
// the loop is asked to stop. It returns false when the caller should
// stop entirely, true when it should resubscribe and continue.
func receiveLoop(ctx context.Context, stop <-chan struct{}, stream manager.TaskStream, handle TaskHandler, wg *sync.WaitGroup, logger logging.Logger) bool {
	ticker := time.NewTicker(ResubscribeInterval)
	defer ticker.Stop()

	recvCh := make(chan recvResult, 1)
	go recvOnce(stream, recvCh)

	for {
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return true
		case res := <-recvCh:
			if res.err != nil {
				if !manager.IsTransient(res.err) && logger != nil {
					logger.Errorf("serviceloop: terminal stream error: %v", res.err)
				}
				return true
			}
			wg.Add(1)
			go func(task manager.Task) {
				defer wg.Done()
				handle(ctx, task)
			}(res.task)
			go recvOnce(stream, recvCh)
		}
	}
}

type recvResult struct {
	task manager.Task
	err  error
}

func recvOnce(stream manager.TaskStream, out chan<- recvResult) {
	task, err := stream.Recv()
	out <- recvResult{task: task, err: err}
}

func sleepOrStop(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

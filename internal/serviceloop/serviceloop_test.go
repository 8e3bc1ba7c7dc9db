package serviceloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamkv/streamkv/internal/manager"
)

type fakeStream struct {
	tasks chan manager.Task
	errs  chan error
}

func (s *fakeStream) Recv() (manager.Task, error) {
	select {
	case t := <-s.tasks:
		return t, nil
	case err := <-s.errs:
		return manager.Task{}, err
	}
}

type fakeClient struct {
	mu      sync.Mutex
	streams []*fakeStream
	subs    int
}

func (c *fakeClient) SubscribeCompactTasks(ctx context.Context, contextID uint64) (manager.TaskStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	s := &fakeStream{tasks: make(chan manager.Task, 8), errs: make(chan error, 8)}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeClient) ReportCompactionTask(ctx context.Context, result manager.TaskResult) error { return nil }
func (c *fakeClient) GetNewSSTIDs(ctx context.Context, n uint64) (uint64, uint64, error) {
	return 0, 0, nil
}
func (c *fakeClient) PinVersion(ctx context.Context, lastPinned uint64) (manager.PinVersionResponse, error) {
	return manager.PinVersionResponse{}, nil
}
func (c *fakeClient) UnpinVersion(ctx context.Context) error             { return nil }
func (c *fakeClient) UnpinVersionBefore(ctx context.Context, id uint64) error { return nil }
func (c *fakeClient) ReportVacuumTask(ctx context.Context, sstIDs []uint64) error { return nil }
func (c *fakeClient) ReportFullScanTask(ctx context.Context, sstIDs []uint64) error { return nil }

func (c *fakeClient) latestStream() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[len(c.streams)-1]
}

func TestLoopDispatchesReceivedTasksToHandler(t *testing.T) {
	client := &fakeClient{}
	var handled int32
	handle := func(ctx context.Context, task manager.Task) {
		atomic.AddInt32(&handled, 1)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		Loop(context.Background(), stop, 1, client, handle, nil)
		close(done)
	}()

	waitForSubscribe(t, client)
	client.latestStream().tasks <- manager.Task{ID: 1}
	client.latestStream().tasks <- manager.Task{ID: 2}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&handled) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&handled) != 2 {
		t.Fatalf("expected 2 tasks handled, got %d", handled)
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Loop did not exit after stop was closed")
	}
}

func TestLoopResubscribesOnStreamError(t *testing.T) {
	client := &fakeClient{}
	handle := func(ctx context.Context, task manager.Task) {}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		Loop(context.Background(), stop, 1, client, handle, nil)
		close(done)
	}()

	waitForSubscribe(t, client)
	client.latestStream().errs <- errors.New("boom")

	deadline := time.Now().Add(time.Second)
	for {
		client.mu.Lock()
		subs := client.subs
		client.mu.Unlock()
		if subs >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected resubscribe after stream error, got %d subscriptions", subs)
		}
		time.Sleep(time.Millisecond)
	}

	close(stop)
	<-done
}

func waitForSubscribe(t *testing.T, client *fakeClient) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		client.mu.Lock()
		n := len(client.streams)
		client.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("subscribe never happened")
}

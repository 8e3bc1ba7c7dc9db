// Package idwatermark tracks the low-water mark of in-flight SST ids:
// every id issued to a compaction task is held by a ticket until the
// task's output has been durably registered, and the tracker reports
// the oldest still-outstanding id so that a vacuum pass never reclaims
// an SST a live compaction might still reference.
package idwatermark

import (
	"container/heap"
	"context"
	"sync"
)

// Ticket is a handle on one outstanding SST id. Release must be called
// exactly once, typically via defer, once the id's file has been
// sealed and either committed or abandoned.
type Ticket struct {
	id      uint64
	tracker *Tracker
	done    bool
	mu      sync.Mutex
}

// ID returns the SST id this ticket guards.
func (t *Ticket) ID() uint64 { return t.id }

// Release posts the ticket to the tracker's reaper, marking this id as
// no longer outstanding. The watermark bookkeeping happens
// asynchronously on the tracker's reaper goroutine; the hand-off is a
// send on a buffered channel, which waits only while that buffer is
// full and the tracker is not closed. Calling Release more than once
// is a no-op.
func (t *Ticket) Release() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()
	t.tracker.release(t.id)
}

// idHeap is a min-heap of outstanding ids, used to find the current
// watermark in O(log n) per release.
type idHeap []uint64

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)         { *h = append(*h, x.(uint64)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Tracker maintains the set of outstanding SST ids and the resulting
// watermark: the smallest id that is still outstanding, or the next id
// to be issued when nothing is outstanding.
type Tracker struct {
	mu        sync.Mutex
	nextID    uint64
	lastID    uint64
	heap      idHeap
	reaper    chan uint64
	closeOnce sync.Once
	closed    chan struct{}
}

// NewTracker constructs a Tracker whose first issued id is firstID.
func NewTracker(firstID uint64) *Tracker {
	t := &Tracker{
		nextID: firstID,
		reaper: make(chan uint64, 256),
		closed: make(chan struct{}),
	}
	go t.reap()
	return t
}

// Issue hands out n contiguous fresh ids and a Ticket guarding each,
// mirroring a GetNewSSTIDs(n) round trip to the manager.
func (t *Tracker) Issue(ctx context.Context, n uint64) (start uint64, tickets []*Ticket, err error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	t.mu.Lock()
	start = t.nextID
	t.nextID += n
	t.lastID = t.nextID - 1
	for i := uint64(0); i < n; i++ {
		heap.Push(&t.heap, start+i)
	}
	t.mu.Unlock()

	tickets = make([]*Ticket, n)
	for i := range tickets {
		tickets[i] = &Ticket{id: start + uint64(i), tracker: t}
	}
	return start, tickets, nil
}

func (t *Tracker) release(id uint64) {
	select {
	case t.reaper <- id:
	case <-t.closed:
	}
}

func (t *Tracker) reap() {
	for {
		select {
		case id, ok := <-t.reaper:
			if !ok {
				return
			}
			t.mu.Lock()
			for i, v := range t.heap {
				if v == id {
					heap.Remove(&t.heap, i)
					break
				}
			}
			t.mu.Unlock()
		case <-t.closed:
			return
		}
	}
}

// Watermark returns the smallest outstanding SST id. If nothing is
// outstanding, it returns the next id that will be issued, which is a
// safe upper bound: nothing at or above it can possibly be referenced
// by a live compaction yet.
func (t *Tracker) Watermark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.heap) == 0 {
		return t.nextID
	}
	return t.heap[0]
}

// Close stops the tracker's reaper goroutine. It does not wait for
// pending releases to drain.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
}

// Allocator adapts a Tracker to the sstbuilder package's IDAllocator
// interface: it issues ids one at a time (mirroring a GetNewSSTIDs(1)
// round trip per file a builder seals) and remembers every ticket it
// hands out so the owning compaction task can release them all in one
// call once its output has been committed or abandoned.
type Allocator struct {
	tracker *Tracker

	mu      sync.Mutex
	tickets []*Ticket
}

// NewAllocator builds an Allocator issuing ids from tracker.
func NewAllocator(tracker *Tracker) *Allocator {
	return &Allocator{tracker: tracker}
}

// NextID issues one fresh id and retains its ticket for ReleaseAll.
func (a *Allocator) NextID(ctx context.Context) (uint64, error) {
	_, tickets, err := a.tracker.Issue(ctx, 1)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.tickets = append(a.tickets, tickets[0])
	a.mu.Unlock()
	return tickets[0].ID(), nil
}

// ReleaseAll releases every ticket issued through this allocator so
// far, clearing its internal list. Safe to call once a task has
// finished, whether it succeeded or failed.
func (a *Allocator) ReleaseAll() {
	a.mu.Lock()
	tickets := a.tickets
	a.tickets = nil
	a.mu.Unlock()
	for _, ticket := range tickets {
		ticket.Release()
	}
}

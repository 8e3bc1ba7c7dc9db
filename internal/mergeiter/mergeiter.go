// Package mergeiter implements the compaction read path's merged
// iterator: a k-way merge across overlapping levels and a plain
// concatenation across non-overlapping ones, both yielding full keys
// in (user key ascending, epoch descending) order.
//
// The heap-based merge mirrors a standard LSM merging iterator; it is
// generalized here to fullkey.Compare and to a context-aware Next so a
// caller can cancel a long compaction scan.
package mergeiter

import (
	"container/heap"
	"context"

	"github.com/streamkv/streamkv/internal/fullkey"
)

// Iterator is the minimal interface every table/level iterator must
// satisfy to participate in a merge.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool
	// Key returns the full key at the current position. Only valid
	// when Valid() is true.
	Key() fullkey.FullKey
	// Value returns the value at the current position.
	Value() fullkey.Value
	// Next advances the iterator, respecting ctx cancellation.
	Next(ctx context.Context) error
	// Close releases resources held by the iterator.
	Close() error
}

// ConcatIterator chains a sequence of iterators end to end, assuming
// their key ranges are non-overlapping and already given in ascending
// order — the shape of a single non-L0 level.
type ConcatIterator struct {
	iters []Iterator
	idx   int
}

// NewConcatIterator builds a ConcatIterator over non-overlapping child
// iterators already ordered by key range.
func NewConcatIterator(iters []Iterator) *ConcatIterator {
	return &ConcatIterator{iters: iters}
}

func (c *ConcatIterator) skipExhausted(ctx context.Context) error {
	for c.idx < len(c.iters) && !c.iters[c.idx].Valid() {
		c.idx++
	}
	return nil
}

// Init positions the iterator at the first entry, if any.
func (c *ConcatIterator) Init(ctx context.Context) error {
	return c.skipExhausted(ctx)
}

func (c *ConcatIterator) Valid() bool {
	return c.idx < len(c.iters) && c.iters[c.idx].Valid()
}

func (c *ConcatIterator) Key() fullkey.FullKey {
	return c.iters[c.idx].Key()
}

func (c *ConcatIterator) Value() fullkey.Value {
	return c.iters[c.idx].Value()
}

func (c *ConcatIterator) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Valid() {
		return nil
	}
	if err := c.iters[c.idx].Next(ctx); err != nil {
		return err
	}
	return c.skipExhausted(ctx)
}

func (c *ConcatIterator) Close() error {
	var first error
	for _, it := range c.iters {
		if err := it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// heapItem pairs an iterator with the child index that produced it,
// to support stable tie-breaking (the newer table wins for equal
// keys, matching the compaction input order convention).
type heapItem struct {
	it    Iterator
	index int
}

type iterHeap []*heapItem

func (h iterHeap) Len() int { return len(h) }

func (h iterHeap) Less(i, j int) bool {
	c := fullkey.Compare(h[i].it.Key(), h[j].it.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].index < h[j].index
}

func (h iterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *iterHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *iterHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// UnorderedMergeIterator performs a k-way merge across child iterators
// whose key ranges may overlap — the shape of L0 and of any
// overlapping compaction input. It surfaces every version of every key
// from every child, in (user key ascending, epoch descending) order;
// it does not itself drop duplicate or superseded versions — that is
// the compaction filter chain's job, downstream of this iterator.
type UnorderedMergeIterator struct {
	h        iterHeap
	cur      *heapItem
	children []Iterator
}

// NewUnorderedMergeIterator builds a merge over children, each already
// positioned (or exhausted) by the caller.
func NewUnorderedMergeIterator(children []Iterator) *UnorderedMergeIterator {
	m := &UnorderedMergeIterator{children: children}
	for i, it := range children {
		if it.Valid() {
			m.h = append(m.h, &heapItem{it: it, index: i})
		}
	}
	heap.Init(&m.h)
	m.advance()
	return m
}

func (m *UnorderedMergeIterator) advance() {
	if len(m.h) == 0 {
		m.cur = nil
		return
	}
	m.cur = m.h[0]
}

func (m *UnorderedMergeIterator) Valid() bool {
	return m.cur != nil
}

func (m *UnorderedMergeIterator) Key() fullkey.FullKey {
	return m.cur.it.Key()
}

func (m *UnorderedMergeIterator) Value() fullkey.Value {
	return m.cur.it.Value()
}

func (m *UnorderedMergeIterator) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cur == nil {
		return nil
	}
	top := heap.Pop(&m.h).(*heapItem)
	if err := top.it.Next(ctx); err != nil {
		return err
	}
	if top.it.Valid() {
		heap.Push(&m.h, top)
	}
	m.advance()
	return nil
}

func (m *UnorderedMergeIterator) Close() error {
	var first error
	for _, it := range m.children {
		if err := it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

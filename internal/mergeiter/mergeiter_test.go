package mergeiter

import (
	"context"
	"fmt"
	"testing"

	"github.com/streamkv/streamkv/internal/fullkey"
)

type entry struct {
	key fullkey.FullKey
	val fullkey.Value
}

// sliceIterator is an in-memory test double backing a fixed, already
// sorted entry slice, used to stand in for a real SST iterator.
type sliceIterator struct {
	entries []entry
	pos     int
	closed  bool
}

func newSliceIterator(entries []entry) *sliceIterator {
	return &sliceIterator{entries: entries}
}

func (s *sliceIterator) Valid() bool { return s.pos < len(s.entries) }

func (s *sliceIterator) Key() fullkey.FullKey { return s.entries[s.pos].key }

func (s *sliceIterator) Value() fullkey.Value { return s.entries[s.pos].val }

func (s *sliceIterator) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pos++
	return nil
}

func (s *sliceIterator) Close() error {
	s.closed = true
	return nil
}

func collect(t *testing.T, it Iterator) []string {
	t.Helper()
	var out []string
	ctx := context.Background()
	for it.Valid() {
		out = append(out, fmt.Sprintf("%s@%d", it.Key().UserKey(), it.Key().Epoch()))
		if err := it.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return out
}

func TestUnorderedMergeIteratorOrdersAcrossOverlappingChildren(t *testing.T) {
	a := newSliceIterator([]entry{
		{fullkey.New([]byte("a"), 10), fullkey.Put([]byte("a10"))},
		{fullkey.New([]byte("c"), 5), fullkey.Put([]byte("c5"))},
	})
	b := newSliceIterator([]entry{
		{fullkey.New([]byte("a"), 20), fullkey.Put([]byte("a20"))},
		{fullkey.New([]byte("b"), 7), fullkey.Put([]byte("b7"))},
	})

	m := NewUnorderedMergeIterator([]Iterator{a, b})
	got := collect(t, m)
	want := []string{"a@20", "a@10", "b@7", "c@5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("expected children closed")
	}
}

func TestConcatIteratorChainsNonOverlappingLevels(t *testing.T) {
	a := newSliceIterator([]entry{{fullkey.New([]byte("a"), 1), fullkey.Put(nil)}})
	b := newSliceIterator([]entry{{fullkey.New([]byte("z"), 1), fullkey.Put(nil)}})
	c := NewConcatIterator([]Iterator{a, b})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got := collect(t, c)
	if len(got) != 2 || got[0] != "a@1" || got[1] != "z@1" {
		t.Fatalf("unexpected concat order: %v", got)
	}
}

func TestUnorderedMergeIteratorEmptyInput(t *testing.T) {
	m := NewUnorderedMergeIterator(nil)
	if m.Valid() {
		t.Fatalf("expected empty merge iterator to be invalid")
	}
}

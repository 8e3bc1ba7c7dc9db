package filterchain

import (
	"testing"
	"time"

	"github.com/streamkv/streamkv/internal/fullkey"
)

func userKeyWithTable(tableID uint32, row string) []byte {
	buf := make([]byte, 4+len(row))
	buf[0] = byte(tableID >> 24)
	buf[1] = byte(tableID >> 16)
	buf[2] = byte(tableID >> 8)
	buf[3] = byte(tableID)
	copy(buf[4:], row)
	return buf
}

func TestStateCleanUpFilterDropsMissingTables(t *testing.T) {
	f := NewStateCleanUpFilter(map[uint32]struct{}{1: {}})
	keep := fullkey.New(userKeyWithTable(1, "a"), 1)
	drop := fullkey.New(userKeyWithTable(2, "a"), 1)
	if f.ShouldDrop(keep, fullkey.Put(nil)) {
		t.Fatalf("expected table 1 entry to be kept")
	}
	if !f.ShouldDrop(drop, fullkey.Put(nil)) {
		t.Fatalf("expected table 2 entry to be dropped")
	}
}

func TestTTLFilterDropsOldPutsNotDeletes(t *testing.T) {
	ref := time.Unix(1000, 0)
	epochToTS := func(epoch uint64) time.Time { return time.Unix(int64(epoch), 0) }
	f := NewTTLFilter(100*time.Second, epochToTS, func() time.Time { return ref })

	oldPut := fullkey.New([]byte("k"), 800)
	freshPut := fullkey.New([]byte("k"), 950)
	oldDelete := fullkey.New([]byte("k"), 800)

	if !f.ShouldDrop(oldPut, fullkey.Put(nil)) {
		t.Fatalf("expected old put to be dropped")
	}
	if f.ShouldDrop(freshPut, fullkey.Put(nil)) {
		t.Fatalf("expected fresh put to be kept")
	}
	if f.ShouldDrop(oldDelete, fullkey.Delete()) {
		t.Fatalf("expected delete tombstone never dropped by ttl filter")
	}
}

func TestChainStopsAtFirstDrop(t *testing.T) {
	calls := 0
	counting := filterFunc(func(fullkey.FullKey, fullkey.Value) bool {
		calls++
		return false
	})
	dropping := filterFunc(func(fullkey.FullKey, fullkey.Value) bool { return true })
	neverCalled := filterFunc(func(fullkey.FullKey, fullkey.Value) bool {
		t.Fatalf("filter after a drop vote must not run")
		return false
	})

	c := NewChain(counting, dropping, neverCalled)
	if !c.ShouldDrop(fullkey.New([]byte("k"), 1), fullkey.Put(nil)) {
		t.Fatalf("expected chain to drop")
	}
	if calls != 1 {
		t.Fatalf("expected first filter evaluated exactly once, got %d", calls)
	}
}

type filterFunc func(fullkey.FullKey, fullkey.Value) bool

func (f filterFunc) ShouldDrop(key fullkey.FullKey, value fullkey.Value) bool { return f(key, value) }
func (f filterFunc) Name() string                                            { return "test" }

func TestDummyFilterNeverDrops(t *testing.T) {
	var f DummyFilter
	if f.ShouldDrop(fullkey.New([]byte("k"), 1), fullkey.Delete()) {
		t.Fatalf("dummy filter must never drop")
	}
}

package objstore

import (
	"context"
	"testing"

	"github.com/streamkv/streamkv/internal/sstbuilder"
)

func TestMemObjectStorePutDeleteList(t *testing.T) {
	s := NewMemObjectStore()
	ctx := context.Background()

	if err := s.Put(ctx, sstbuilder.SstableInfo{ID: 1}, []byte("a"), CacheFill); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, sstbuilder.SstableInfo{ID: 2}, []byte("b"), CacheSkip); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ids, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	data, ok := s.GetOK(1)
	if !ok || string(data) != "a" {
		t.Fatalf("expected to read back sst 1's data")
	}

	if err := s.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.GetOK(1); ok {
		t.Fatalf("expected sst 1 to be gone after delete")
	}
	ids, _ = s.List(ctx, "")
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("unexpected ids after delete: %v", ids)
	}
}

func TestPutCopiesDataDefensively(t *testing.T) {
	s := NewMemObjectStore()
	buf := []byte("mutable")
	if err := s.Put(context.Background(), sstbuilder.SstableInfo{ID: 1}, buf, CacheSkip); err != nil {
		t.Fatalf("Put: %v", err)
	}
	buf[0] = 'X'
	data, _ := s.GetOK(1)
	if string(data) != "mutable" {
		t.Fatalf("expected stored data to be unaffected by caller mutation, got %q", data)
	}
}

func TestParseObjectID(t *testing.T) {
	id, ok := parseObjectID("sst/42.sst")
	if !ok || id != 42 {
		t.Fatalf("expected id 42, got %d ok=%v", id, ok)
	}
	if _, ok := parseObjectID("sst/not-a-number.sst"); ok {
		t.Fatalf("expected parse failure for non-numeric object name")
	}
}

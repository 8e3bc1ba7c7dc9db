// Package sstbuilder implements the capacity-splitting SST builder:
// an accumulator that packs full-key/value entries into one SST at a
// time, sealing and starting a fresh one once the current file crosses
// its target capacity, and only at a user-key boundary so that no
// user key is ever split across two output files.
//
// A MemoryLimiter bounds how much unflushed build memory the builder
// may hold at once, backpressuring the compactor worker that feeds it.
package sstbuilder

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamkv/streamkv/internal/block"
	"github.com/streamkv/streamkv/internal/compression"
	"github.com/streamkv/streamkv/internal/filter"
	"github.com/streamkv/streamkv/internal/fullkey"
)

// defaultBloomBitsPerKey matches the ~1% false-positive-rate default
// internal/filter.NewBloomFilterBuilder documents.
const defaultBloomBitsPerKey = 10

// SstableInfo describes a sealed output file: its id, key range, size
// and the table ids present, enough for the level/version bookkeeping
// to index it without re-reading the block format. A sealed file's
// Data is the compressed block body followed by an uncompressed Bloom
// filter section over every user key it contains; BlockSize marks
// where the filter section begins.
type SstableInfo struct {
	ID           uint64
	Smallest     fullkey.FullKey
	Largest      fullkey.FullKey
	FileSize     uint64
	BlockSize    uint64
	TableIDs     []uint32
	BloomEntries uint64
	Compression  compression.Type
}

// CanConcat reports whether a and b may be concatenated directly
// rather than re-merged: their user-key ranges must not overlap, and
// a must sort entirely before b.
func CanConcat(a, b SstableInfo) bool {
	return fullkey.Less(a.Largest, b.Smallest)
}

// SealedFile is a finished SST's metadata plus its serialized bytes,
// ready for upload to object storage.
type SealedFile struct {
	Info SstableInfo
	Data []byte
}

// Options configures a CapacitySplitBuilder.
type Options struct {
	// Capacity is the target uncompressed size, in bytes, of one
	// output SST before a split is considered.
	Capacity uint64
	// RestartInterval is passed through to the underlying block
	// builder's prefix-compression restart interval.
	RestartInterval int
	// Compression is applied to each sealed file's body.
	Compression compression.Type
	// BloomBitsPerKey sizes each sealed file's Bloom filter. Zero uses
	// defaultBloomBitsPerKey.
	BloomBitsPerKey int
}

// DefaultOptions returns capacity-splitting defaults in the builder's
// usual 64MiB-target, 16-key-restart-interval shape.
func DefaultOptions() Options {
	return Options{
		Capacity:        64 << 20,
		RestartInterval: 16,
		Compression:     compression.SnappyCompression,
	}
}

// IDAllocator hands out monotonically increasing SST ids, implemented
// by the id watermark tracker in practice.
type IDAllocator interface {
	NextID(ctx context.Context) (uint64, error)
}

// CapacitySplitBuilder accumulates full-key/value entries into a
// sequence of sealed files, splitting only at user-key boundaries.
type CapacitySplitBuilder struct {
	opts    Options
	ids     IDAllocator
	limiter *MemoryLimiter

	cur      *block.Builder
	bloom    *filter.BloomFilterBuilder
	smallest fullkey.FullKey
	largest  fullkey.FullKey
	tableIDs map[uint32]struct{}
	curID    uint64
	haveCur  bool

	sealed []SealedFile
}

// NewCapacitySplitBuilder constructs a builder that allocates ids from
// ids and tracks memory use through limiter.
func NewCapacitySplitBuilder(opts Options, ids IDAllocator, limiter *MemoryLimiter) *CapacitySplitBuilder {
	return &CapacitySplitBuilder{opts: opts, ids: ids, limiter: limiter}
}

func (c *CapacitySplitBuilder) startNewFile(ctx context.Context) error {
	id, err := c.ids.NextID(ctx)
	if err != nil {
		return fmt.Errorf("sstbuilder: allocate sst id: %w", err)
	}
	bitsPerKey := c.opts.BloomBitsPerKey
	if bitsPerKey <= 0 {
		bitsPerKey = defaultBloomBitsPerKey
	}
	c.cur = block.NewBuilder(c.opts.RestartInterval)
	c.bloom = filter.NewBloomFilterBuilder(bitsPerKey)
	c.curID = id
	c.haveCur = true
	c.tableIDs = make(map[uint32]struct{})
	c.smallest = nil
	c.largest = nil
	return nil
}

// AddFullKey appends one entry to the current output file. When the
// current file has reached its target capacity and allowSplit is true
// (the caller is between distinct user keys), the file is sealed
// before the new entry starts a fresh one.
func (c *CapacitySplitBuilder) AddFullKey(ctx context.Context, key fullkey.FullKey, value fullkey.Value, allowSplit bool) error {
	if !key.Valid() {
		return fmt.Errorf("sstbuilder: invalid full key")
	}
	if !c.haveCur {
		if err := c.startNewFile(ctx); err != nil {
			return err
		}
	} else if allowSplit && uint64(c.cur.EstimatedSize()) >= c.opts.Capacity {
		if err := c.sealCurrent(ctx); err != nil {
			return err
		}
		if err := c.startNewFile(ctx); err != nil {
			return err
		}
	}

	encodedValue := value.Encode()
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, uint64(len(key)+len(encodedValue))); err != nil {
			return err
		}
	}
	c.cur.Add(key, encodedValue)
	c.bloom.AddKey(key.UserKey())

	if c.smallest == nil || fullkey.Less(key, c.smallest) {
		c.smallest = append(fullkey.FullKey(nil), key...)
	}
	if c.largest == nil || fullkey.Less(c.largest, key) {
		c.largest = append(fullkey.FullKey(nil), key...)
	}
	if tableID, ok := tableIDOf(key); ok {
		c.tableIDs[tableID] = struct{}{}
	}
	return nil
}

func tableIDOf(key fullkey.FullKey) (uint32, bool) {
	uk := key.UserKey()
	if len(uk) < 4 {
		return 0, false
	}
	return uint32(uk[0])<<24 | uint32(uk[1])<<16 | uint32(uk[2])<<8 | uint32(uk[3]), true
}

// sealCurrent finishes the in-progress file and appends it to the
// sealed list. It is a no-op if no entries have been written.
func (c *CapacitySplitBuilder) sealCurrent(ctx context.Context) error {
	if !c.haveCur || c.cur.Empty() {
		c.haveCur = false
		return nil
	}
	raw := c.cur.Finish()
	body, err := compression.Compress(c.opts.Compression, raw)
	if err != nil {
		return fmt.Errorf("sstbuilder: compress sst %d: %w", c.curID, err)
	}
	numKeys := c.bloom.NumKeys()
	filterBytes := c.bloom.Finish()
	data := make([]byte, 0, len(body)+len(filterBytes))
	data = append(data, body...)
	data = append(data, filterBytes...)

	ids := make([]uint32, 0, len(c.tableIDs))
	for id := range c.tableIDs {
		ids = append(ids, id)
	}
	info := SstableInfo{
		ID:           c.curID,
		Smallest:     c.smallest,
		Largest:      c.largest,
		FileSize:     uint64(len(data)),
		BlockSize:    uint64(len(body)),
		TableIDs:     ids,
		BloomEntries: uint64(numKeys),
		Compression:  c.opts.Compression,
	}
	c.sealed = append(c.sealed, SealedFile{Info: info, Data: data})
	if c.limiter != nil {
		c.limiter.Release(uint64(len(raw)))
	}
	c.haveCur = false
	return nil
}

// Finish seals any in-progress file and returns every sealed output,
// in the order they were produced.
func (c *CapacitySplitBuilder) Finish(ctx context.Context) ([]SealedFile, error) {
	if err := c.sealCurrent(ctx); err != nil {
		return nil, err
	}
	out := c.sealed
	c.sealed = nil
	return out, nil
}

// MemoryLimiter bounds the total unflushed build memory in use across
// one or more CapacitySplitBuilders, blocking Acquire until enough
// capacity has been Released elsewhere.
type MemoryLimiter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity uint64
	inUse    uint64
}

// NewMemoryLimiter creates a limiter with the given byte capacity.
func NewMemoryLimiter(capacity uint64) *MemoryLimiter {
	l := &MemoryLimiter{capacity: capacity}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until n bytes of quota are available or ctx is
// cancelled, then reserves them.
func (l *MemoryLimiter) Acquire(ctx context.Context, n uint64) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-stop:
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inUse+n > l.capacity && l.inUse > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.inUse += n
	return nil
}

// Release returns n bytes of quota, waking any blocked Acquire calls.
func (l *MemoryLimiter) Release(n uint64) {
	l.mu.Lock()
	if n > l.inUse {
		l.inUse = 0
	} else {
		l.inUse -= n
	}
	l.cond.Broadcast()
	l.mu.Unlock()
}

// InUse reports the currently reserved byte quota.
func (l *MemoryLimiter) InUse() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// Package sstreader opens a sealed SST back up for reading: it
// fetches the compressed body from object storage, decompresses it,
// and wraps the decoded block in a mergeiter.Iterator so the merged
// iterator can treat an on-disk SST exactly like any other input.
//
// Every SST this builder produces is a single compressed block
// followed by an uncompressed Bloom filter section (see
// internal/sstbuilder), so opening one is a fetch, slicing off the
// block section, a decompress, and a block.NewBlock — there is no
// separate footer or multi-block index to walk.
package sstreader

import (
	"context"
	"fmt"

	"github.com/streamkv/streamkv/internal/block"
	"github.com/streamkv/streamkv/internal/compression"
	"github.com/streamkv/streamkv/internal/filter"
	"github.com/streamkv/streamkv/internal/fullkey"
	"github.com/streamkv/streamkv/internal/metrics"
	"github.com/streamkv/streamkv/internal/sstbuilder"
)

// Fetcher retrieves a sealed SST's raw (compressed) body by id. An
// objstore.ObjectStore satisfies this directly.
type Fetcher interface {
	Get(ctx context.Context, id uint64) ([]byte, error)
}

// Iterator adapts a decoded block.Iterator to mergeiter.Iterator,
// decoding each entry's value tag on the way out.
type Iterator struct {
	it  *block.Iterator
	val fullkey.Value
	err error
}

// Open fetches info's sealed body through fetcher, decompresses its
// block section (the first info.BlockSize bytes; the remainder is an
// uncompressed Bloom filter section, see ReadFilter) per
// info.Compression, and returns an Iterator positioned at the first
// entry.
func Open(ctx context.Context, fetcher Fetcher, info sstbuilder.SstableInfo) (*Iterator, error) {
	raw, err := fetcher.Get(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("sstreader: fetch sst %d: %w", info.ID, err)
	}
	metrics.CompactionReadBytes.Add(float64(len(raw)))
	blockBytes, err := blockSection(raw, info)
	if err != nil {
		return nil, err
	}
	body, err := compression.Decompress(info.Compression, blockBytes)
	if err != nil {
		return nil, fmt.Errorf("sstreader: decompress sst %d: %w", info.ID, err)
	}
	blk, err := block.NewBlock(body)
	if err != nil {
		return nil, fmt.Errorf("sstreader: decode sst %d: %w", info.ID, err)
	}
	it := blk.NewIterator()
	it.SeekToFirst()
	r := &Iterator{it: it}
	r.decodeCurrent()
	return r, nil
}

// ReadFilter fetches info's sealed body through fetcher and returns a
// reader over its Bloom filter section, for a caller that wants to
// rule out a user key without opening the full block (e.g. the read
// path's point-lookup fast path, or a compaction picker skipping input
// files that cannot possibly contain a key range of interest).
func ReadFilter(ctx context.Context, fetcher Fetcher, info sstbuilder.SstableInfo) (*filter.BloomFilterReader, error) {
	raw, err := fetcher.Get(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("sstreader: fetch sst %d: %w", info.ID, err)
	}
	if info.BlockSize > uint64(len(raw)) {
		return nil, fmt.Errorf("sstreader: sst %d: block size %d exceeds file size %d", info.ID, info.BlockSize, len(raw))
	}
	return filter.NewBloomFilterReader(raw[info.BlockSize:]), nil
}

func blockSection(raw []byte, info sstbuilder.SstableInfo) ([]byte, error) {
	if info.BlockSize == 0 || info.BlockSize > uint64(len(raw)) {
		return raw, nil
	}
	return raw[:info.BlockSize], nil
}

func (r *Iterator) decodeCurrent() {
	if !r.it.Valid() {
		return
	}
	v, err := fullkey.DecodeValue(r.it.Value())
	if err != nil {
		r.err = fmt.Errorf("sstreader: decode value: %w", err)
		return
	}
	r.val = v
}

func (r *Iterator) Valid() bool { return r.err == nil && r.it.Valid() }

func (r *Iterator) Key() fullkey.FullKey { return fullkey.FullKey(r.it.Key()) }

func (r *Iterator) Value() fullkey.Value { return r.val }

func (r *Iterator) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.it.Next()
	if err := r.it.Error(); err != nil {
		r.err = err
		return err
	}
	r.decodeCurrent()
	return r.err
}

func (r *Iterator) Close() error { return r.err }

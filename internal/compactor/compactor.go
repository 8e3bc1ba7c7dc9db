// Package compactor implements the compactor worker: given a
// compaction task describing input SSTs and a set of key-range
// splits, it merges every split's inputs, runs the compaction filter
// chain over the merge, writes surviving entries through a
// capacity-splitting builder, and uploads the result, aggregating
// sub-task failures without cancelling siblings already in flight.
package compactor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/streamkv/streamkv/internal/filterchain"
	"github.com/streamkv/streamkv/internal/fullkey"
	"github.com/streamkv/streamkv/internal/logging"
	"github.com/streamkv/streamkv/internal/mergeiter"
	"github.com/streamkv/streamkv/internal/sstbuilder"
)

var errExecutorClosed = errors.New("compactor: executor closed")

// KeyRange is an inclusive full-key range bounding one compaction
// sub-task's share of the overall input.
type KeyRange struct {
	Smallest fullkey.FullKey
	Largest  fullkey.FullKey
}

// Split is one unit of parallel compaction work: a key range plus the
// target output level it feeds.
type Split struct {
	Range       KeyRange
	TargetLevel int
}

// Task describes one compaction job: a factory opening fresh input
// iterators for a split (each split gets its own iterator instances,
// since splits run concurrently and an iterator is not safe to share
// across goroutines), the splits to run in parallel, the filter chain
// to apply, and the epoch below which superseded versions of a key
// may be dropped.
type Task struct {
	ID             uint64
	OpenInputs     func(ctx context.Context) ([]mergeiter.Iterator, error)
	Splits         []Split
	Filters        *filterchain.Chain
	WatermarkEpoch uint64
	GCDeleteKeys   bool
}

// SplitResult is one split's output.
type SplitResult struct {
	Split       Split
	SealedFiles []sstbuilder.SealedFile
}

// Uploader persists a sealed file to object storage, keyed by its
// assigned SST id. targetLevel is the split's output level, passed
// through so the uploader can choose a cache-fill policy appropriate
// to the level (§4.5: level 0 outputs are filled into the read cache
// eagerly, deeper levels are not).
type Uploader interface {
	Upload(ctx context.Context, file sstbuilder.SealedFile, targetLevel int) error
}

// Context bundles the collaborators a compaction task needs: an id
// allocator (backing the capacity-splitting builder), a memory
// limiter shared across concurrently running splits, an uploader, and
// a logger. It is constructed once per worker and passed explicitly —
// no package-level state is shared across tasks.
type Context struct {
	IDAllocator   sstbuilder.IDAllocator
	MemoryLimiter *sstbuilder.MemoryLimiter
	BuilderOpts   sstbuilder.Options
	Uploader      Uploader
	Executor      *Executor
	Logger        logging.Logger
}

// Result is the outcome of running an entire Task: every split's
// output, in split order, or the first error encountered by any
// split.
type Result struct {
	Splits []SplitResult
}

// Run executes every split of task in parallel (bounded by cctx's
// Executor when set), merging each split's share of the inputs, and
// returns once every split has finished, including after an error. A
// failing split does not cancel its siblings — this is a best-effort
// aggregation: every split that can still produce valid output does
// so, and the first error observed is returned alongside whatever
// partial results completed.
func Run(ctx context.Context, cctx *Context, task Task) (Result, error) {
	if len(task.Splits) == 0 {
		panic("compactor: task has no splits")
	}
	if task.OpenInputs == nil {
		panic("compactor: task has no input iterator factory")
	}

	results := make([]SplitResult, len(task.Splits))
	var firstErr atomic.Pointer[error]
	var wg sync.WaitGroup

	for i, split := range task.Splits {
		i, split := i, split
		run := func() {
			defer wg.Done()
			res, err := runSplit(ctx, cctx, task, split)
			if err != nil {
				firstErr.CompareAndSwap(nil, &err)
				if cctx.Logger != nil {
					cctx.Logger.Errorf("compactor: split %d of task %d failed: %v", i, task.ID, err)
				}
				return
			}
			results[i] = res
		}

		wg.Add(1)
		if cctx.Executor != nil {
			if err := cctx.Executor.Submit(ctx, run); err != nil {
				wg.Done()
				firstErr.CompareAndSwap(nil, &err)
				continue
			}
		} else {
			go run()
		}
	}

	wg.Wait()

	if p := firstErr.Load(); p != nil {
		return Result{Splits: results}, *p
	}
	return Result{Splits: results}, nil
}

func runSplit(ctx context.Context, cctx *Context, task Task, split Split) (SplitResult, error) {
	inputs, err := task.OpenInputs(ctx)
	if err != nil {
		return SplitResult{}, fmt.Errorf("compactor: open inputs: %w", err)
	}
	merged := mergeiter.NewUnorderedMergeIterator(inputs)
	defer merged.Close()

	builder := sstbuilder.NewCapacitySplitBuilder(cctx.BuilderOpts, cctx.IDAllocator, cctx.MemoryLimiter)

	if err := compactKeyRange(ctx, merged, split.Range, task.Filters, task.WatermarkEpoch, task.GCDeleteKeys, builder); err != nil {
		return SplitResult{}, fmt.Errorf("compactor: split [%s, %s]: %w", split.Range.Smallest, split.Range.Largest, err)
	}

	sealed, err := builder.Finish(ctx)
	if err != nil {
		return SplitResult{}, err
	}
	for _, f := range sealed {
		if err := cctx.Uploader.Upload(ctx, f, split.TargetLevel); err != nil {
			return SplitResult{}, fmt.Errorf("compactor: upload sst %d: %w", f.Info.ID, err)
		}
	}
	return SplitResult{Split: split, SealedFiles: sealed}, nil
}

// compactKeyRange is the per-key drop-decision loop at the heart of a
// compaction sub-task. For every distinct user key, versions above
// watermarkEpoch are kept, and so is the newest version at or below
// it, since a read at the watermark still sees that one; versions
// older than it are dropped as shadowed. A delete tombstone at or
// below watermarkEpoch is dropped when gcDeleteKeys is set, and every
// older version of that key is then dropped with it. The filter chain
// may drop any version the watermark rules keep.
func compactKeyRange(
	ctx context.Context,
	merged mergeiter.Iterator,
	krange KeyRange,
	filters *filterchain.Chain,
	watermarkEpoch uint64,
	gcDeleteKeys bool,
	builder *sstbuilder.CapacitySplitBuilder,
) error {
	var lastUserKey []byte
	haveLast := false
	watermarkCanSeeLastKey := false

	for merged.Valid() {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := merged.Key()
		if fullkey.Less(key, krange.Smallest) {
			if err := merged.Next(ctx); err != nil {
				return err
			}
			continue
		}
		if krange.Largest != nil && fullkey.Less(krange.Largest, key) {
			break
		}

		value := merged.Value()
		isNewUserKey := !haveLast || !bytes.Equal(lastUserKey, key.UserKey())
		if isNewUserKey {
			lastUserKey = append(lastUserKey[:0], key.UserKey()...)
			haveLast = true
			watermarkCanSeeLastKey = false
		}

		epoch := key.Epoch()
		drop := false
		switch {
		case epoch <= watermarkEpoch && gcDeleteKeys && value.IsDelete():
			// the tombstone itself has aged out: nothing older survives
			// to need it as a delete marker
			drop = true
		case epoch < watermarkEpoch && watermarkCanSeeLastKey:
			// an older version shadowed by a version already written
			// at or below the watermark
			drop = true
		case filters != nil && filters.ShouldDrop(key, value):
			drop = true
		}

		// The first version at or below the watermark is always kept
		// (unless tombstone-collapsed above); only once it has been
		// seen do later, older versions of the same key become
		// droppable as shadowed.
		if epoch <= watermarkEpoch {
			watermarkCanSeeLastKey = true
		}

		if !drop {
			allowSplit := isNewUserKey
			if err := builder.AddFullKey(ctx, key, value, allowSplit); err != nil {
				return err
			}
		}

		if err := merged.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

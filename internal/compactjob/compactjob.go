// Package compactjob translates a manager.Task (the manager's
// CompactTask wire shape) into a runnable compactor.Task: it builds
// the filter chain from the task's filter mask and table options,
// converts the wire key ranges into the compactor's full-key ranges,
// and wires an input-opening factory that fetches every input SST
// through an object store on demand.
package compactjob

import (
	"context"
	"fmt"

	"github.com/streamkv/streamkv/internal/compactor"
	"github.com/streamkv/streamkv/internal/filterchain"
	"github.com/streamkv/streamkv/internal/fullkey"
	"github.com/streamkv/streamkv/internal/hummockversion"
	"github.com/streamkv/streamkv/internal/manager"
	"github.com/streamkv/streamkv/internal/mergeiter"
	"github.com/streamkv/streamkv/internal/sstbuilder"
	"github.com/streamkv/streamkv/internal/sstreader"
)

// Build assembles a compactor.Task from task, which must carry
// manager.CompactTaskKind. Every input SST referenced by
// task.InputSSTs is opened lazily, once per split, through fetcher.
func Build(task manager.Task, fetcher sstreader.Fetcher) compactor.Task {
	chain := filterchain.BuildChain(filterchain.BuildChainOptions{
		Mask:             filterchain.Mask(task.FilterMask),
		ExistingTableIDs: task.ExistingTableIDs,
		RetentionSeconds: task.TableOptions,
		CurrentEpochTime: task.CurrentEpochTime,
	})

	splits := make([]compactor.Split, len(task.Splits))
	for i, s := range task.Splits {
		splits[i] = compactor.Split{
			Range:       keyRangeFromWire(s),
			TargetLevel: task.TargetLevel,
		}
	}

	levels := task.InputSSTs
	return compactor.Task{
		ID: task.ID,
		OpenInputs: func(ctx context.Context) ([]mergeiter.Iterator, error) {
			return openLevels(ctx, fetcher, levels)
		},
		Splits:         splits,
		Filters:        chain,
		WatermarkEpoch: task.WatermarkEpoch,
		GCDeleteKeys:   task.GCDeleteKeys,
	}
}

// keyRangeFromWire converts one manager.KeyRange (raw left/right user
// keys, Inf meaning unbounded above) into a compactor.KeyRange over
// full keys. Encoding both bounds with the maximum epoch trailer makes
// Smallest sort before every version of the left user key (inclusive)
// and makes Largest sort before every version of the right user key
// (so the right bound is excluded, matching the manager's half-open
// [left, right) split convention).
func keyRangeFromWire(s manager.KeyRange) compactor.KeyRange {
	kr := compactor.KeyRange{
		Smallest: fullkey.New(s.Left, ^uint64(0)),
	}
	if !s.Inf {
		kr.Largest = fullkey.New(s.Right, ^uint64(0))
	}
	return kr
}

func openLevels(ctx context.Context, fetcher sstreader.Fetcher, levels []hummockversion.Level) ([]mergeiter.Iterator, error) {
	var out []mergeiter.Iterator
	for _, lvl := range levels {
		if lvl.Type == hummockversion.LevelNonoverlapping {
			children, err := openTables(ctx, fetcher, lvl.Tables)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				continue
			}
			concat := mergeiter.NewConcatIterator(children)
			if err := concat.Init(ctx); err != nil {
				return nil, err
			}
			out = append(out, concat)
			continue
		}
		children, err := openTables(ctx, fetcher, lvl.Tables)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func openTables(ctx context.Context, fetcher sstreader.Fetcher, tables []sstbuilder.SstableInfo) ([]mergeiter.Iterator, error) {
	out := make([]mergeiter.Iterator, 0, len(tables))
	for _, t := range tables {
		it, err := sstreader.Open(ctx, fetcher, t)
		if err != nil {
			return nil, fmt.Errorf("compactjob: open sst %d: %w", t.ID, err)
		}
		out = append(out, it)
	}
	return out, nil
}

package hummockversion

import (
	"testing"

	"github.com/streamkv/streamkv/internal/fullkey"
	"github.com/streamkv/streamkv/internal/sstbuilder"
)

func sst(id uint64, smallest, largest string) sstbuilder.SstableInfo {
	return sstbuilder.SstableInfo{
		ID:       id,
		Smallest: fullkey.New([]byte(smallest), 0),
		Largest:  fullkey.New([]byte(largest), 0),
	}
}

func baseVersion() *Version {
	return &Version{
		ID:                1,
		MaxCommittedEpoch: 10,
		SafeEpoch:         5,
		CompactionGroups: map[CompactionGroupID]*CompactionGroupLevels{
			1: {
				L0: []Level{
					{LevelIdx: 0, Type: LevelOverlapping, Tables: []sstbuilder.SstableInfo{sst(1, "a", "m")}},
				},
				Levels: []Level{
					{LevelIdx: 1, Type: LevelNonoverlapping, Tables: []sstbuilder.SstableInfo{
						sst(2, "a", "f"),
						sst(3, "g", "m"),
					}},
				},
			},
		},
	}
}

func TestApplyDoesNotMutateBaseTables(t *testing.T) {
	base := baseVersion()
	baseTablesBefore := append([]sstbuilder.SstableInfo(nil), base.CompactionGroups[1].Levels[0].Tables...)

	delta := &Delta{
		Version:           2,
		MaxCommittedEpoch: 20,
		SafeEpoch:         10,
		GroupDeltas: map[CompactionGroupID]*GroupDelta{
			1: {
				AddedLevels: map[int][]sstbuilder.SstableInfo{
					1: {sst(4, "z", "zz")},
				},
				RemovedIDs: map[uint64]struct{}{2: {}},
			},
		},
	}

	next := Apply(base, delta)

	baseLevel := base.CompactionGroups[1].Levels[0]
	if len(baseLevel.Tables) != len(baseTablesBefore) {
		t.Fatalf("base level table count changed: got %d, want %d", len(baseLevel.Tables), len(baseTablesBefore))
	}
	for i, want := range baseTablesBefore {
		if baseLevel.Tables[i].ID != want.ID {
			t.Fatalf("Apply mutated base's backing array at index %d: got id %d, want id %d", i, baseLevel.Tables[i].ID, want.ID)
		}
	}

	nextLevel := next.CompactionGroups[1].Levels[0]
	if len(nextLevel.Tables) != 2 {
		t.Fatalf("expected 2 surviving+added tables in next version, got %d", len(nextLevel.Tables))
	}
	var ids []uint64
	for _, tbl := range nextLevel.Tables {
		ids = append(ids, tbl.ID)
	}
	if ids[0] != 3 || ids[1] != 4 {
		t.Fatalf("unexpected table ids after apply: %v", ids)
	}

	if next.ID != 2 || next.MaxCommittedEpoch != 20 || next.SafeEpoch != 10 {
		t.Fatalf("watermarks not updated: %+v", next)
	}
}

func TestApplyAddsL0SubLevel(t *testing.T) {
	base := baseVersion()
	delta := &Delta{
		Version:           2,
		MaxCommittedEpoch: base.MaxCommittedEpoch,
		SafeEpoch:         base.SafeEpoch,
		GroupDeltas: map[CompactionGroupID]*GroupDelta{
			1: {AddedL0: []sstbuilder.SstableInfo{sst(5, "q", "z")}},
		},
	}

	next := Apply(base, delta)
	g := next.CompactionGroups[1]
	if len(g.L0) != 2 {
		t.Fatalf("expected 2 L0 sub-levels after apply, got %d", len(g.L0))
	}
	if len(base.CompactionGroups[1].L0) != 1 {
		t.Fatalf("Apply mutated base's L0 sub-level count")
	}
}

func TestGroupLevelsOrdersL0NewestFirst(t *testing.T) {
	v := baseVersion()
	delta := &Delta{
		Version:           2,
		MaxCommittedEpoch: v.MaxCommittedEpoch,
		SafeEpoch:         v.SafeEpoch,
		GroupDeltas: map[CompactionGroupID]*GroupDelta{
			1: {AddedL0: []sstbuilder.SstableInfo{sst(6, "q", "z")}},
		},
	}
	next := Apply(v, delta)

	levels := next.GroupLevels(1)
	if len(levels) != 3 {
		t.Fatalf("expected 2 L0 sub-levels + 1 ordinary level, got %d", len(levels))
	}
	if levels[0].Tables[0].ID != 6 {
		t.Fatalf("expected newest L0 sub-level first, got table id %d", levels[0].Tables[0].ID)
	}
	if levels[1].Tables[0].ID != 1 {
		t.Fatalf("expected original L0 sub-level second, got table id %d", levels[1].Tables[0].ID)
	}
	if levels[2].LevelIdx != 1 {
		t.Fatalf("expected ordinary level last, got level idx %d", levels[2].LevelIdx)
	}
}

func TestCombinedLevelsCoversEveryGroup(t *testing.T) {
	v := baseVersion()
	v.CompactionGroups[2] = &CompactionGroupLevels{
		Levels: []Level{{LevelIdx: 1, Type: LevelNonoverlapping, Tables: []sstbuilder.SstableInfo{sst(9, "a", "z")}}},
	}

	combined := v.CombinedLevels()
	var total int
	for _, lvl := range combined {
		total += len(lvl.Tables)
	}
	if total != 4 {
		t.Fatalf("expected 4 total tables across both groups, got %d", total)
	}
}

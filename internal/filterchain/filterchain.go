// Package filterchain implements the compaction filter chain: a
// sequence of drop-decision filters evaluated per key, returning early
// on the first filter that says drop.
package filterchain

import (
	"time"

	"github.com/streamkv/streamkv/internal/fullkey"
)

// Filter decides whether a single full key/value entry should be
// dropped during compaction.
type Filter interface {
	// ShouldDrop reports whether key/value should be dropped from the
	// compaction output.
	ShouldDrop(key fullkey.FullKey, value fullkey.Value) bool
	// Name identifies the filter for logging.
	Name() string
}

// Mask is the compaction task's compaction_filter_mask bitset,
// selecting which built-in filters the worker should install for one
// task.
type Mask uint32

const (
	// MaskStateClean enables StateCleanUpFilter.
	MaskStateClean Mask = 1 << iota
	// MaskTTL enables TableTTLFilter.
	MaskTTL
)

// BuildChainOptions supplies everything a BuildChain call needs to
// assemble the filters named by a task's mask.
type BuildChainOptions struct {
	Mask             Mask
	ExistingTableIDs map[uint32]struct{}
	RetentionSeconds map[uint32]uint64
	CurrentEpochTime uint64
	EpochSeconds     func(epoch uint64) uint64
}

// BuildChain assembles a Chain from a compaction task's filter mask,
// installing StateCleanUpFilter and/or TableTTLFilter per the bits
// set in opts.Mask. An empty mask yields an empty (never-drop) chain.
func BuildChain(opts BuildChainOptions) *Chain {
	var filters []Filter
	if opts.Mask&MaskStateClean != 0 {
		filters = append(filters, NewStateCleanUpFilter(opts.ExistingTableIDs))
	}
	if opts.Mask&MaskTTL != 0 {
		epochSeconds := opts.EpochSeconds
		if epochSeconds == nil {
			epochSeconds = fullkey.EpochToUnixSeconds
		}
		filters = append(filters, NewTableTTLFilter(opts.RetentionSeconds, opts.CurrentEpochTime, epochSeconds))
	}
	return NewChain(filters...)
}

// Chain evaluates a sequence of Filters in order, dropping an entry as
// soon as one member votes to drop it.
type Chain struct {
	filters []Filter
}

// NewChain builds a Chain over filters, evaluated in the given order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// ShouldDrop reports whether any filter in the chain votes to drop the
// entry, stopping at the first such vote.
func (c *Chain) ShouldDrop(key fullkey.FullKey, value fullkey.Value) bool {
	for _, f := range c.filters {
		if f.ShouldDrop(key, value) {
			return true
		}
	}
	return false
}

// DummyFilter never drops anything; it is the identity filter used
// when a compaction task carries no table-level or retention rules.
type DummyFilter struct{}

func (DummyFilter) ShouldDrop(fullkey.FullKey, fullkey.Value) bool { return false }

func (DummyFilter) Name() string { return "dummy" }

// TableIDFromUserKey extracts the table id prefixed onto a user key.
// User keys in this engine are encoded as table_id_be_u32 || row key;
// a table-scoped filter only needs the prefix.
func TableIDFromUserKey(userKey []byte) (uint32, bool) {
	if len(userKey) < 4 {
		return 0, false
	}
	return uint32(userKey[0])<<24 | uint32(userKey[1])<<16 | uint32(userKey[2])<<8 | uint32(userKey[3]), true
}

// StateCleanUpFilter drops every entry whose table id is not in the
// retained set, used when a table (or the materialized view backing
// it) has been dropped from the catalog and its keyspace needs
// reclaiming out of the next compaction.
type StateCleanUpFilter struct {
	existingTableIDs map[uint32]struct{}
}

// NewStateCleanUpFilter builds a filter that keeps only the given
// table ids.
func NewStateCleanUpFilter(existingTableIDs map[uint32]struct{}) *StateCleanUpFilter {
	return &StateCleanUpFilter{existingTableIDs: existingTableIDs}
}

func (f *StateCleanUpFilter) ShouldDrop(key fullkey.FullKey, _ fullkey.Value) bool {
	tableID, ok := TableIDFromUserKey(key.UserKey())
	if !ok {
		return false
	}
	_, exists := f.existingTableIDs[tableID]
	return !exists
}

func (f *StateCleanUpFilter) Name() string { return "state-clean-up" }

// TTLFilter drops put entries whose epoch is older than the retention
// window, measured against the compaction's reference wall-clock time.
// Delete tombstones are left to the caller's retention-epoch logic in
// the compactor worker, not to this filter.
type TTLFilter struct {
	retention time.Duration
	now       func() time.Time
	epochToTS func(epoch uint64) time.Time
}

// NewTTLFilter builds a filter that drops puts older than retention,
// using epochToTS to convert a key's epoch trailer to wall-clock time.
func NewTTLFilter(retention time.Duration, epochToTS func(uint64) time.Time, now func() time.Time) *TTLFilter {
	if now == nil {
		now = time.Now
	}
	return &TTLFilter{retention: retention, now: now, epochToTS: epochToTS}
}

func (f *TTLFilter) ShouldDrop(key fullkey.FullKey, value fullkey.Value) bool {
	if value.IsDelete() {
		return false
	}
	if f.retention <= 0 {
		return false
	}
	age := f.now().Sub(f.epochToTS(key.Epoch()))
	return age > f.retention
}

func (f *TTLFilter) Name() string { return "ttl" }

// TableTTLFilter drops put entries belonging to a table with a
// configured retention window, once the key's epoch has aged past it
// relative to the task's reference wall-clock time. Unlike TTLFilter
// (one retention for every key), this is the per-table form the
// compaction task's table_options map actually carries: each table id
// gets its own retention_seconds, and tables absent from the map are
// never TTL-dropped.
type TableTTLFilter struct {
	retentionSeconds map[uint32]uint64
	currentEpochTime uint64
	epochSeconds     func(epoch uint64) uint64
}

// NewTableTTLFilter builds a filter evaluating each key's table
// against retentionSeconds (table id -> retention window, in
// seconds), using currentEpochTime as the task's reference time and
// epochSeconds to convert a key's epoch trailer to seconds.
func NewTableTTLFilter(retentionSeconds map[uint32]uint64, currentEpochTime uint64, epochSeconds func(uint64) uint64) *TableTTLFilter {
	return &TableTTLFilter{
		retentionSeconds: retentionSeconds,
		currentEpochTime: currentEpochTime,
		epochSeconds:     epochSeconds,
	}
}

func (f *TableTTLFilter) ShouldDrop(key fullkey.FullKey, value fullkey.Value) bool {
	if value.IsDelete() {
		return false
	}
	tableID, ok := TableIDFromUserKey(key.UserKey())
	if !ok {
		return false
	}
	retention, ok := f.retentionSeconds[tableID]
	if !ok || retention == 0 {
		return false
	}
	keyTime := f.epochSeconds(key.Epoch())
	if keyTime >= f.currentEpochTime {
		return false
	}
	return f.currentEpochTime-keyTime > retention
}

func (f *TableTTLFilter) Name() string { return "table-ttl" }

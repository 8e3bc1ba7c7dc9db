// Package manager defines the compactor's view of the manager RPC
// surface: subscribing to compaction tasks, reporting their outcome,
// allocating SST ids, and pinning/unpinning versions. The wire
// protocol behind these calls belongs to the manager service itself;
// this package only fixes the Go-level interface the compactor and
// service loop program against, plus a gRPC-flavored classifier for
// deciding whether a stream error is worth a resubscribe.
package manager

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamkv/streamkv/internal/hummockversion"
)

// TaskKind discriminates the three message shapes the manager's task
// stream delivers, per the subscribe_compact_tasks contract: a
// compaction assignment, a vacuum command, or a full-scan request.
type TaskKind int

const (
	// CompactTaskKind carries a compaction assignment; the zero value,
	// so a Task built without setting Kind defaults to this shape.
	CompactTaskKind TaskKind = iota
	// VacuumTaskKind carries a list of SST ids to delete from object
	// storage.
	VacuumTaskKind
	// FullScanTaskKind asks the compactor to list every SST id under
	// a prefix and report them back to the manager.
	FullScanTaskKind
)

// KeyRange is the wire form of one compaction split: an inclusive
// left bound, and either a right bound or Inf meaning unbounded.
type KeyRange struct {
	Left  []byte
	Right []byte
	Inf   bool
}

// Task is one message received from the manager's compaction task
// stream. Which fields are populated depends on Kind: a CompactTask
// carries the fields from ID through CompressionAlgorithm; a VacuumTask carries only
// VacuumSSTIDs; a FullScanTask carries only FullScanPrefix.
type Task struct {
	Kind TaskKind

	// CompactTask fields.
	ID                   uint64
	GroupID              hummockversion.CompactionGroupID
	TargetLevel          int
	TargetFileSize       uint64
	InputSSTs            []hummockversion.Level
	Splits               []KeyRange
	WatermarkEpoch       uint64
	GCDeleteKeys         bool
	FilterMask           uint32
	ExistingTableIDs     map[uint32]struct{}
	TableOptions         map[uint32]uint64 // table id -> retention_seconds
	CurrentEpochTime     uint64
	CompressionAlgorithm int // 0=None, 1=Lz4, else Zstd

	// VacuumTask fields.
	VacuumSSTIDs []uint64

	// FullScanTask fields.
	FullScanPrefix string
}

// TaskResult reports one task's outcome back to the manager.
type TaskResult struct {
	TaskID  uint64
	Success bool
	Err     string
}

// PinVersionResponse is the manager's answer to PinVersion: either a
// full snapshot, or — when the caller already holds lastPinned and the
// manager can express the difference cheaply — an incremental delta
// the caller folds on with hummockversion.Apply.
type PinVersionResponse struct {
	IsDelta bool
	Delta   *hummockversion.Delta
	Version *hummockversion.Version
}

// TaskStream is a subscription to the manager's compaction task feed.
type TaskStream interface {
	Recv() (Task, error)
}

// Client is the compactor's view of the manager RPC surface.
type Client interface {
	SubscribeCompactTasks(ctx context.Context, contextID uint64) (TaskStream, error)
	ReportCompactionTask(ctx context.Context, result TaskResult) error
	GetNewSSTIDs(ctx context.Context, n uint64) (start, end uint64, err error)
	PinVersion(ctx context.Context, lastPinned uint64) (PinVersionResponse, error)
	UnpinVersion(ctx context.Context) error
	UnpinVersionBefore(ctx context.Context, id uint64) error
	ReportVacuumTask(ctx context.Context, sstIDs []uint64) error
	ReportFullScanTask(ctx context.Context, sstIDs []uint64) error
}

// IsTransient reports whether err from a TaskStream.Recv (or any other
// manager RPC) is a transient failure, such as the manager being
// briefly unavailable. The service loop resubscribes after any stream
// error and logs the ones this does not classify as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.Canceled:
		return false
	default:
		return false
	}
}

// Package vacuum implements the compactor's handling of the manager's
// two housekeeping commands: deleting a list of SSTs from object
// storage (VacuumTask), and listing every SST id under a prefix so the
// manager can reconcile its catalog against what object storage
// actually holds (FullScanTask).
package vacuum

import (
	"context"
	"fmt"

	"github.com/streamkv/streamkv/internal/logging"
)

// Store is the subset of the object store a vacuum pass needs.
type Store interface {
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, prefix string) ([]uint64, error)
}

// Reporter is the subset of the manager client a vacuum pass reports
// results through.
type Reporter interface {
	ReportVacuumTask(ctx context.Context, sstIDs []uint64) error
	ReportFullScanTask(ctx context.Context, sstIDs []uint64) error
}

// Vacuum deletes every id in sstIDs from store, continuing past
// individual delete failures so one missing object does not abandon
// the rest of the batch, then reports the ids it actually deleted back
// to the manager via client. It returns the first deletion error
// encountered, if any, after attempting every id.
func Vacuum(ctx context.Context, sstIDs []uint64, store Store, client Reporter, logger logging.Logger) error {
	deleted := make([]uint64, 0, len(sstIDs))
	var firstErr error
	for _, id := range sstIDs {
		if err := store.Delete(ctx, id); err != nil {
			if logger != nil {
				logger.Warnf("vacuum: delete sst %d: %v", id, err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("vacuum: delete sst %d: %w", id, err)
			}
			continue
		}
		deleted = append(deleted, id)
	}
	if err := client.ReportVacuumTask(ctx, deleted); err != nil && logger != nil {
		logger.Errorf("vacuum: report vacuum task: %v", err)
	}
	return firstErr
}

// FullScan lists every SST id under prefix and reports the result back
// to the manager via client.
func FullScan(ctx context.Context, prefix string, store Store, client Reporter, logger logging.Logger) error {
	ids, err := store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("vacuum: list prefix %q: %w", prefix, err)
	}
	if err := client.ReportFullScanTask(ctx, ids); err != nil {
		if logger != nil {
			logger.Errorf("vacuum: report full scan task: %v", err)
		}
		return fmt.Errorf("vacuum: report full scan task: %w", err)
	}
	return nil
}

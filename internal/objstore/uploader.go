package objstore

import (
	"context"
	"time"

	"github.com/streamkv/streamkv/internal/metrics"
	"github.com/streamkv/streamkv/internal/sstbuilder"
)

// CompactorUploader adapts an ObjectStore to the compactor package's
// Uploader interface, recording upload size and latency metrics.
type CompactorUploader struct {
	Store ObjectStore
}

// Upload puts a sealed file to the backing store and records its size
// and latency to the shared metrics registry. The cache policy follows
// the split's target level: level 0 output is still hot enough to be
// read back almost immediately, so it is filled into the read cache
// eagerly; output landing at any deeper level is left uncached.
func (u CompactorUploader) Upload(ctx context.Context, file sstbuilder.SealedFile, targetLevel int) error {
	policy := CacheSkip
	if targetLevel == 0 {
		policy = CacheFill
	}
	start := time.Now()
	err := u.Store.Put(ctx, file.Info, file.Data, policy)
	metrics.CompactionWriteBytes.Add(float64(len(file.Data)))
	metrics.CompactionUploadDuration.Observe(time.Since(start).Seconds())
	return err
}

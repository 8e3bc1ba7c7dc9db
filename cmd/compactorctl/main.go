// Command compactorctl runs the compactor service loop: it wires the
// object store, SST id watermark tracker, memory limiter and
// executor, exposes Prometheus metrics over HTTP, and drives
// serviceloop.Loop until interrupted.
//
// The manager RPC client is this binary's one unfilled seam: its wire
// protocol is the manager service's concern, not this module's, so
// ManagerClientFactory must be set by the embedding deployment before
// Run is called.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamkv/streamkv/internal/compactjob"
	"github.com/streamkv/streamkv/internal/compactor"
	"github.com/streamkv/streamkv/internal/compression"
	"github.com/streamkv/streamkv/internal/idwatermark"
	"github.com/streamkv/streamkv/internal/logging"
	"github.com/streamkv/streamkv/internal/manager"
	"github.com/streamkv/streamkv/internal/metrics"
	"github.com/streamkv/streamkv/internal/objstore"
	"github.com/streamkv/streamkv/internal/serviceloop"
	"github.com/streamkv/streamkv/internal/sstbuilder"
	"github.com/streamkv/streamkv/internal/vacuum"
)

// ManagerClientFactory constructs the manager RPC client for a given
// manager endpoint. It is nil by default: the manager's wire protocol
// is an external collaborator this module does not implement, so the
// embedding binary must supply a concrete client before calling Run.
var ManagerClientFactory func(endpoint string) (manager.Client, error)

func main() {
	var (
		managerAddr   = flag.String("manager-addr", "", "manager RPC endpoint")
		contextID     = flag.Uint64("context-id", 0, "this compactor's manager context id")
		s3Endpoint    = flag.String("s3-endpoint", "", "S3-compatible object store endpoint")
		s3Bucket      = flag.String("s3-bucket", "", "object store bucket")
		s3AccessKey   = flag.String("s3-access-key", "", "object store access key")
		s3SecretKey   = flag.String("s3-secret-key", "", "object store secret key")
		metricsAddr   = flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
		executorSize  = flag.Int("executor-size", 4, "number of concurrent compaction sub-task workers")
		memoryLimitMB = flag.Int("memory-limit-mb", 512, "compaction build memory budget in MiB")
		firstSSTID    = flag.Uint64("first-sst-id", 1, "first SST id this process may allocate")
		sstableSizeMB = flag.Int("sstable-size-mb", 256, "ceiling on one output SST's target size, in MiB")
	)
	flag.Parse()

	logger := logging.NewDefaultLogger(logging.LevelInfo)

	if ManagerClientFactory == nil {
		logger.Fatalf("compactorctl: no ManagerClientFactory wired; the manager RPC client must be supplied by the embedding binary")
		os.Exit(1)
	}
	client, err := ManagerClientFactory(*managerAddr)
	if err != nil {
		logger.Fatalf("compactorctl: construct manager client: %v", err)
		os.Exit(1)
	}

	store, err := objstore.NewS3ObjectStore(objstore.S3Options{
		Endpoint:        *s3Endpoint,
		AccessKeyID:     *s3AccessKey,
		SecretAccessKey: *s3SecretKey,
		Bucket:          *s3Bucket,
	})
	if err != nil {
		logger.Fatalf("compactorctl: construct object store: %v", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		logger.Fatalf("compactorctl: register metrics: %v", err)
		os.Exit(1)
	}

	idTracker := idwatermark.NewTracker(*firstSSTID)
	defer idTracker.Close()

	limiter := sstbuilder.NewMemoryLimiter(uint64(*memoryLimitMB) << 20)
	executor := compactor.NewExecutor(*executorSize, *executorSize*2)
	defer executor.Close()
	uploader := objstore.CompactorUploader{Store: store}

	httpServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("compactorctl: metrics server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "compactorctl: shutting down")
		close(stop)
		cancel()
	}()

	handle := func(ctx context.Context, task manager.Task) {
		switch task.Kind {
		case manager.VacuumTaskKind:
			if err := vacuum.Vacuum(ctx, task.VacuumSSTIDs, store, client, logger); err != nil {
				logger.Errorf("compactorctl: vacuum task: %v", err)
			}
		case manager.FullScanTaskKind:
			if err := vacuum.FullScan(ctx, task.FullScanPrefix, store, client, logger); err != nil {
				logger.Errorf("compactorctl: full scan task: %v", err)
			}
		default:
			runCompactTask(ctx, task, store, idTracker, limiter, executor, uploader, logger, client, uint64(*sstableSizeMB)<<20)
		}
	}

	serviceloop.Loop(ctx, stop, *contextID, client, handle, logger)

	if err := httpServer.Close(); err != nil {
		log.Printf("compactorctl: metrics server close: %v", err)
	}
}

// runCompactTask runs one CompactTask end to end: it registers a
// per-task SST id allocator against the shared watermark tracker,
// builds and runs the compactor.Task translated from the wire task,
// and reports success or failure back to the manager. The id
// allocator's tickets are always released on exit, regardless of
// outcome, so a full-GC pass is never blocked by a task that failed.
func runCompactTask(
	ctx context.Context,
	task manager.Task,
	store objstore.ObjectStore,
	idTracker *idwatermark.Tracker,
	limiter *sstbuilder.MemoryLimiter,
	executor *compactor.Executor,
	uploader objstore.CompactorUploader,
	logger logging.Logger,
	client manager.Client,
	sstableSizeCeiling uint64,
) {
	start := time.Now()
	metrics.PendingTasks.Inc()
	defer metrics.PendingTasks.Dec()
	defer func() {
		metrics.CompactionTaskDuration.Observe(time.Since(start).Seconds())
	}()

	alloc := idwatermark.NewAllocator(idTracker)
	defer alloc.ReleaseAll()

	capacity := task.TargetFileSize
	if sstableSizeCeiling < capacity || capacity == 0 {
		capacity = sstableSizeCeiling
	}

	cctx := &compactor.Context{
		IDAllocator:   alloc,
		MemoryLimiter: limiter,
		BuilderOpts: sstbuilder.Options{
			Capacity:        capacity,
			RestartInterval: 16,
			Compression:     compressionFromWire(task.CompressionAlgorithm),
		},
		Uploader: uploader,
		Executor: executor,
		Logger:   logger,
	}

	ctask := compactjob.Build(task, store)
	result, err := compactor.Run(ctx, cctx, ctask)

	taskResult := manager.TaskResult{TaskID: task.ID, Success: err == nil}
	if err != nil {
		taskResult.Err = err.Error()
		logger.Errorf("compactorctl: task %d failed: %v", task.ID, err)
	} else {
		logger.Infof("compactorctl: task %d succeeded with %d splits", task.ID, len(result.Splits))
	}
	if rerr := client.ReportCompactionTask(ctx, taskResult); rerr != nil {
		logger.Errorf("compactorctl: report task %d: %v", task.ID, rerr)
	}
}

// compressionFromWire maps a compaction task's wire compression code
// (0=None, 1=Lz4, anything else=Zstd per §6) to this module's
// compression.Type.
func compressionFromWire(algo int) compression.Type {
	switch algo {
	case 0:
		return compression.NoCompression
	case 1:
		return compression.LZ4Compression
	default:
		return compression.ZstdCompression
	}
}

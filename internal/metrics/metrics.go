// Package metrics wires the compactor's runtime counters and
// histograms into Prometheus: bytes read/written by compaction,
// per-task duration, and the number of tasks currently in flight.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "streamkv"

var (
	// CompactionReadBytes counts bytes read from input SSTs during
	// compaction, across every task.
	CompactionReadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "read_bytes_total",
		Help:      "Total bytes read from input SSTs during compaction.",
	})

	// CompactionWriteBytes counts bytes written to output SSTs.
	CompactionWriteBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "write_bytes_total",
		Help:      "Total bytes written to output SSTs during compaction.",
	})

	// CompactionTaskDuration observes wall-clock seconds spent running
	// one compaction task end to end.
	CompactionTaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "task_duration_seconds",
		Help:      "Duration of a compaction task from dispatch to report.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// CompactionUploadDuration observes wall-clock seconds spent
	// uploading one sealed SST to object storage.
	CompactionUploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "upload_duration_seconds",
		Help:      "Duration of one sealed SST upload to object storage.",
		Buckets:   prometheus.DefBuckets,
	})

	// PendingTasks tracks the number of compaction tasks dispatched
	// but not yet reported back to the manager.
	PendingTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "pending_tasks",
		Help:      "Number of compaction tasks currently in flight.",
	})
)

// Register adds every metric in this package to reg. Call once at
// process startup.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		CompactionReadBytes,
		CompactionWriteBytes,
		CompactionTaskDuration,
		CompactionUploadDuration,
		PendingTasks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

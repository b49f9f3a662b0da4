package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operation lifecycle metrics
	OperationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opqueue_operations_total",
			Help: "Total number of operations by status",
		},
		[]string{"status"},
	)

	OperationsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opqueue_operations_enqueued_total",
			Help: "Total number of operations enqueued by entity type and kind",
		},
		[]string{"entity_type", "kind"},
	)

	ValidationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opqueue_validation_errors_total",
			Help: "Total number of operations rejected at enqueue time",
		},
		[]string{"entity_type"},
	)

	BackpressureRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opqueue_backpressure_rejections_total",
			Help: "Total number of enqueues rejected due to backpressure",
		},
		[]string{"entity_type"},
	)

	// Scheduler metrics
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opqueue_scheduler_tick_duration_seconds",
			Help:    "Time taken for one scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	OperationExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opqueue_operation_execution_duration_seconds",
			Help:    "Time taken to execute a single operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	OperationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opqueue_operation_retries_total",
			Help: "Total number of operation retries",
		},
	)

	OperationDeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opqueue_operation_dead_letters_total",
			Help: "Total number of operations moved to the dead-letter state",
		},
	)

	// Sync coordinator metrics
	SyncTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opqueue_sync_tick_duration_seconds",
			Help:    "Time taken for one sync coordinator tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncUploadBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opqueue_sync_upload_batch_size",
			Help:    "Number of operations per upload batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"entity_type"},
	)

	SyncDownloadChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opqueue_sync_download_changes_total",
			Help: "Total number of server-originated changes applied",
		},
		[]string{"entity_type"},
	)

	// Conflict resolver metrics
	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opqueue_conflicts_total",
			Help: "Total number of conflicts detected by strategy",
		},
		[]string{"strategy"},
	)

	ConflictsParkedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "opqueue_conflicts_parked",
			Help: "Current number of conflicts parked for manual review",
		},
	)

	// Cache / compaction metrics
	CacheSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "opqueue_cache_entries",
			Help: "Current number of cache entries in the durable store",
		},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opqueue_compaction_duration_seconds",
			Help:    "Time taken for one compaction cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opqueue_compacted_entries_total",
			Help: "Total number of cache entries and operations removed by compaction",
		},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationsEnqueuedTotal)
	prometheus.MustRegister(ValidationErrorsTotal)
	prometheus.MustRegister(BackpressureRejectionsTotal)

	prometheus.MustRegister(SchedulerTickDuration)
	prometheus.MustRegister(OperationExecutionDuration)
	prometheus.MustRegister(OperationRetriesTotal)
	prometheus.MustRegister(OperationDeadLettersTotal)

	prometheus.MustRegister(SyncTickDuration)
	prometheus.MustRegister(SyncUploadBatchSize)
	prometheus.MustRegister(SyncDownloadChangesTotal)

	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(ConflictsParkedGauge)

	prometheus.MustRegister(CacheSizeGauge)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactedEntriesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

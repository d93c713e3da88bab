package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger node
type Metrics struct {
	// Commit metrics
	CommitsTotal         prometheus.Counter
	CommitConflictsTotal prometheus.Counter
	CommitFailuresTotal  *prometheus.CounterVec
	CommitAttempts       prometheus.Histogram
	CommitDuration       prometheus.Histogram
	FinalizeDuration     prometheus.Histogram
	ItemsAppendedTotal   prometheus.Counter
	ItemsPerCommit       prometheus.Histogram

	// Chain metrics
	ChainLength prometheus.Gauge
	LastBatch   prometheus.Gauge

	// Replication metrics
	ReplicatedItemsTotal     prometheus.Counter
	ReplicationFailuresTotal prometheus.Counter
	ReplicationPassDuration  prometheus.Histogram
	ReplicationLag           prometheus.Gauge

	// System metrics
	DiskUsageBytes     prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates all ledger metrics and registers them with reg
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		// Commit metrics
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "commits_total",
			Help:        "Total number of committed source chain batches",
			ConstLabels: labels,
		}),
		CommitConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "commit_conflicts_total",
			Help:        "Total number of commits rejected because the chain head moved",
			ConstLabels: labels,
		}),
		CommitFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "commit_failures_total",
			Help:        "Total number of abandoned commits by error code",
			ConstLabels: labels,
		}, []string{"code"}),
		CommitAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "commit_attempts",
			Help:        "Histogram of attempts needed per commit",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(1, 1, 8),
		}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "commit_duration_seconds",
			Help:        "Histogram of commit durations including retries",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "finalize_duration_seconds",
			Help:        "Histogram of time spent holding the write transaction",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		}),
		ItemsAppendedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "items_appended_total",
			Help:        "Total number of chain items committed",
			ConstLabels: labels,
		}),
		ItemsPerCommit: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "items_per_commit",
			Help:        "Histogram of items written per commit",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),

		// Chain metrics
		ChainLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "chain",
			Name:        "length",
			Help:        "Number of items in the source chain",
			ConstLabels: labels,
		}),
		LastBatch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "chain",
			Name:        "last_batch",
			Help:        "Batch number of the most recent commit",
			ConstLabels: labels,
		}),

		// Replication metrics
		ReplicatedItemsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "items_total",
			Help:        "Total number of chain items published and marked replicated",
			ConstLabels: labels,
		}),
		ReplicationFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "failures_total",
			Help:        "Total number of failed publish attempts",
			ConstLabels: labels,
		}),
		ReplicationPassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "pass_duration_seconds",
			Help:        "Histogram of replication pass durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ReplicationLag: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "pending_items",
			Help:        "Number of committed items not yet replicated, as of the last pass",
			ConstLabels: labels,
		}),

		// System metrics
		DiskUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_bytes",
			Help:        "Current disk usage in bytes",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current memory usage in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordCommit records a successful commit
func (m *Metrics) RecordCommit(attempts, items int, duration float64) {
	m.CommitsTotal.Inc()
	m.CommitAttempts.Observe(float64(attempts))
	m.CommitDuration.Observe(duration)
	m.ItemsAppendedTotal.Add(float64(items))
	m.ItemsPerCommit.Observe(float64(items))
}

// RecordConflict records a head-moved rejection
func (m *Metrics) RecordConflict() {
	m.CommitConflictsTotal.Inc()
}

// RecordCommitFailure records an abandoned commit
func (m *Metrics) RecordCommitFailure(code string) {
	m.CommitFailuresTotal.WithLabelValues(code).Inc()
}

// RecordFinalize records time spent inside the write transaction
func (m *Metrics) RecordFinalize(duration float64) {
	m.FinalizeDuration.Observe(duration)
}

// UpdateChainStats updates chain shape metrics
func (m *Metrics) UpdateChainStats(length int, lastBatch uint32) {
	m.ChainLength.Set(float64(length))
	m.LastBatch.Set(float64(lastBatch))
}

// RecordReplicationPass records the outcome of one replication pass
func (m *Metrics) RecordReplicationPass(replicated, failed, pending int, duration float64) {
	m.ReplicatedItemsTotal.Add(float64(replicated))
	m.ReplicationFailuresTotal.Add(float64(failed))
	m.ReplicationLag.Set(float64(pending))
	m.ReplicationPassDuration.Observe(duration)
}

// UpdateSystemStats updates system-level statistics
func (m *Metrics) UpdateSystemStats(diskUsage, diskAvailable, memoryUsage int64, goroutines int) {
	m.DiskUsageBytes.Set(float64(diskUsage))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	if diskUsage+diskAvailable > 0 {
		m.DiskUsagePercent.Set(float64(diskUsage) / float64(diskUsage+diskAvailable) * 100)
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the index service
type Metrics struct {
	// Write path metrics
	SaveRequestsTotal   *prometheus.CounterVec
	SaveDuration        prometheus.Histogram
	RecordsIndexedTotal prometheus.Counter
	RevisionsCreated    prometheus.Counter
	AutoExpansionsTotal prometheus.Counter
	CommitConflicts     prometheus.Counter
	CommitDuration      prometheus.Histogram
	IdempotentReplays   prometheus.Counter

	// Data file metrics
	DataFilesWritten  prometheus.Counter
	DataBytesWritten  prometheus.Counter
	DataFilesOrphaned prometheus.Counter

	// Snapshot metrics
	SnapshotLoadsTotal   prometheus.Counter
	SnapshotLoadDuration prometheus.Histogram
	SnapshotCacheHits    prometheus.Counter
	SnapshotCacheMisses  prometheus.Counter
	CubesPerStatus       prometheus.Histogram

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on reg.
// Passing a fresh registry keeps tests isolated from the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SaveRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "index",
			Name:      "save_requests_total",
			Help:      "Total number of save requests by outcome",
		}, []string{"outcome"}),
		SaveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otree",
			Subsystem: "index",
			Name:      "save_duration_seconds",
			Help:      "Histogram of end-to-end save durations",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}),
		RecordsIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "index",
			Name:      "records_indexed_total",
			Help:      "Total number of records assigned to cubes",
		}),
		RevisionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "index",
			Name:      "revisions_created_total",
			Help:      "Total number of revisions introduced by commits",
		}),
		AutoExpansionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "index",
			Name:      "auto_expansions_total",
			Help:      "Total number of revisions created by widening out-of-range columns",
		}),
		CommitConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "log",
			Name:      "commit_conflicts_total",
			Help:      "Total number of appends rejected by a concurrent commit",
		}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otree",
			Subsystem: "log",
			Name:      "commit_duration_seconds",
			Help:      "Histogram of log append durations",
			Buckets:   prometheus.DefBuckets,
		}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "index",
			Name:      "idempotent_replays_total",
			Help:      "Total number of saves answered from a previous commit of the same batch",
		}),

		DataFilesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "data",
			Name:      "files_written_total",
			Help:      "Total number of data files written",
		}),
		DataBytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "data",
			Name:      "bytes_written_total",
			Help:      "Total number of data file bytes written",
		}),
		DataFilesOrphaned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "data",
			Name:      "files_orphaned_total",
			Help:      "Total number of data files removed after a failed commit",
		}),

		SnapshotLoadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "snapshot",
			Name:      "loads_total",
			Help:      "Total number of snapshots folded from the log",
		}),
		SnapshotLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otree",
			Subsystem: "snapshot",
			Name:      "load_duration_seconds",
			Help:      "Histogram of snapshot fold durations",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "snapshot",
			Name:      "cache_hits_total",
			Help:      "Total number of snapshot cache hits",
		}),
		SnapshotCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "snapshot",
			Name:      "cache_misses_total",
			Help:      "Total number of snapshot cache misses",
		}),
		CubesPerStatus: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otree",
			Subsystem: "snapshot",
			Name:      "cubes_per_status",
			Help:      "Histogram of cube counts in loaded index statuses",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1 to 262144
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otree",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "otree",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// RecordSave records a finished save by outcome (committed, replayed, failed)
func (m *Metrics) RecordSave(outcome string, duration float64, records int) {
	m.SaveRequestsTotal.WithLabelValues(outcome).Inc()
	m.SaveDuration.Observe(duration)
	if outcome == "committed" {
		m.RecordsIndexedTotal.Add(float64(records))
	}
}

// RecordCommit records a log append attempt
func (m *Metrics) RecordCommit(duration float64, conflict bool) {
	m.CommitDuration.Observe(duration)
	if conflict {
		m.CommitConflicts.Inc()
	}
}

// RecordRevision records a revision introduced by a commit
func (m *Metrics) RecordRevision(autoExpanded bool) {
	m.RevisionsCreated.Inc()
	if autoExpanded {
		m.AutoExpansionsTotal.Inc()
	}
}

// RecordDataFile records one written data file
func (m *Metrics) RecordDataFile(bytes int64) {
	m.DataFilesWritten.Inc()
	m.DataBytesWritten.Add(float64(bytes))
}

// RecordOrphanedFiles records data files discarded after a failed commit
func (m *Metrics) RecordOrphanedFiles(n int) {
	m.DataFilesOrphaned.Add(float64(n))
}

// RecordReplay records a save answered by the idempotency store
func (m *Metrics) RecordReplay() {
	m.IdempotentReplays.Inc()
}

// RecordSnapshotLoad records a snapshot fold and the size of its statuses
func (m *Metrics) RecordSnapshotLoad(duration float64, cubeCounts []int) {
	m.SnapshotLoadsTotal.Inc()
	m.SnapshotLoadDuration.Observe(duration)
	for _, n := range cubeCounts {
		m.CubesPerStatus.Observe(float64(n))
	}
}

// RecordSnapshotCacheHit records a snapshot served from cache
func (m *Metrics) RecordSnapshotCacheHit() {
	m.SnapshotCacheHits.Inc()
}

// RecordSnapshotCacheMiss records a snapshot that had to be folded
func (m *Metrics) RecordSnapshotCacheMiss() {
	m.SnapshotCacheMisses.Inc()
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(route, method, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration)
}

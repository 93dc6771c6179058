package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replica metrics.
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskchampion_tasks_total",
			Help: "Total number of tasks in the replica, by status",
		},
		[]string{"status"},
	)

	PendingOperationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskchampion_pending_operations_total",
			Help: "Number of local operations not yet synced to the server",
		},
	)

	// Sync engine metrics.
	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskchampion_sync_duration_seconds",
			Help:    "Time taken for a full sync cycle (pull + push) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskchampion_sync_cycles_total",
			Help: "Total number of sync cycles, by outcome",
		},
		[]string{"outcome"},
	)

	SyncPulledVersionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskchampion_sync_pulled_versions_total",
			Help: "Total number of history segments pulled from the server",
		},
	)

	SyncPushConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskchampion_sync_push_conflicts_total",
			Help: "Total number of ExpectedParentVersion conflicts encountered while pushing",
		},
	)

	SyncSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskchampion_sync_snapshots_total",
			Help: "Total number of snapshots sent or applied, by direction",
		},
		[]string{"direction"},
	)

	// Sync server HTTP metrics.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskchampion_http_requests_total",
			Help: "Total number of sync server HTTP requests, by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskchampion_http_request_duration_seconds",
			Help:    "Sync server HTTP request duration in seconds, by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Server-side storage metrics.
	ServerVersionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskchampion_server_versions_total",
			Help: "Number of versions added across all clients since the server process started",
		},
	)

	ServerGCRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskchampion_server_gc_runs_total",
			Help: "Total number of garbage collection runs performed after a snapshot",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		PendingOperationsTotal,
		SyncDuration,
		SyncCyclesTotal,
		SyncPulledVersionsTotal,
		SyncPushConflictsTotal,
		SyncSnapshotsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ServerVersionsTotal,
		ServerGCRunsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with
// the given label values.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

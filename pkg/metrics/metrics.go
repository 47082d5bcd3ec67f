package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Graph metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphsync_nodes_total",
			Help: "Total number of live nodes by session",
		},
		[]string{"session"},
	)

	EdgesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphsync_edges_total",
			Help: "Total number of live edges by session",
		},
		[]string{"session"},
	)

	TombstonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphsync_tombstones_total",
			Help: "Total number of tombstone rows across all sessions",
		},
	)

	ChangelogRowsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphsync_changelog_rows_total",
			Help: "Total number of live changelog rows",
		},
	)

	// Sync round metrics
	SyncRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_sync_rounds_total",
			Help: "Total number of sync rounds by peer and strategy",
		},
		[]string{"peer", "strategy"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphsync_sync_duration_seconds",
			Help:    "Time taken to complete a sync round, by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	SyncEntitiesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_sync_entities_sent_total",
			Help: "Total number of entities sent in sync payloads, by kind",
		},
		[]string{"kind"},
	)

	SyncEntitiesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_sync_entities_applied_total",
			Help: "Total number of entities applied from sync payloads, by kind",
		},
		[]string{"kind"},
	)

	ConflictsDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphsync_conflicts_detected_total",
			Help: "Total number of concurrent writes detected during apply_sync",
		},
	)

	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_conflicts_resolved_total",
			Help: "Total number of conflicts resolved, by outcome",
		},
		[]string{"outcome"},
	)

	// Transport metrics
	TransportRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_transport_requests_total",
			Help: "Total number of transport requests by method and status",
		},
		[]string{"method", "status"},
	)

	TransportRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphsync_transport_request_duration_seconds",
			Help:    "Transport request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Prune metrics
	PruneDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphsync_prune_duration_seconds",
			Help:    "Time taken for a changelog prune cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PruneCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphsync_prune_cycles_total",
			Help: "Total number of prune cycles completed",
		},
	)

	PruneRowsRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphsync_prune_rows_removed_total",
			Help: "Total number of changelog rows removed by pruning",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(EdgesTotal)
	prometheus.MustRegister(TombstonesTotal)
	prometheus.MustRegister(ChangelogRowsTotal)

	prometheus.MustRegister(SyncRoundsTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncEntitiesSent)
	prometheus.MustRegister(SyncEntitiesApplied)
	prometheus.MustRegister(ConflictsDetectedTotal)
	prometheus.MustRegister(ConflictsResolvedTotal)

	prometheus.MustRegister(TransportRequestsTotal)
	prometheus.MustRegister(TransportRequestDuration)

	prometheus.MustRegister(PruneDuration)
	prometheus.MustRegister(PruneCyclesTotal)
	prometheus.MustRegister(PruneRowsRemovedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

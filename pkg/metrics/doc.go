/*
Package metrics provides Prometheus metrics collection and exposition for
graphsyncd.

Metrics are registered at package init and exposed via an HTTP endpoint
for scraping; health/readiness checks live alongside them since both are
mounted on the same mux in pkg/transport.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Graph state: nodes, edges, tombstones,     │          │
	│  │               changelog rows (gauges)       │          │
	│  │  Sync: rounds, duration, entities sent/     │          │
	│  │        applied, conflicts (counters/hist)   │          │
	│  │  Transport: request count/duration by path  │          │
	│  │  Prune: cycles, duration, rows removed      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics (promhttp.Handler)        │          │
	│  │  - /health, /ready, /live alongside it      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

graphsync_nodes_total{session}, graphsync_edges_total{session}:
  - Gauge, sampled by Collector from Store.Stats on each session.

graphsync_tombstones_total, graphsync_changelog_rows_total:
  - Gauge, instance-wide totals.

graphsync_sync_rounds_total{peer,strategy}:
  - Counter, one increment per completed SyncWithPeer round.

graphsync_sync_duration_seconds{strategy}:
  - Histogram, wall time of a sync round by strategy (full/incremental).

graphsync_sync_entities_sent_total{kind}, graphsync_sync_entities_applied_total{kind}:
  - Counter, kind is one of node/edge/tombstone.

graphsync_conflicts_detected_total, graphsync_conflicts_resolved_total{outcome}:
  - Counter; pkg/sync increments conflicts_detected_total after each round.
    conflicts_resolved_total carries an outcome label and is registered, but
    no package increments it.

graphsync_transport_requests_total{method,status}, graphsync_transport_request_duration_seconds{method}:
  - Counter/Histogram for outbound RequestSync/Apply calls.

graphsync_prune_cycles_total, graphsync_prune_duration_seconds, graphsync_prune_rows_removed_total:
  - Counter/Histogram/Counter for the background changelog pruner.

# Usage

	import "github.com/specai/graphsync/pkg/metrics"

	metrics.NodesTotal.WithLabelValues("session-1").Set(42)
	metrics.SyncRoundsTotal.WithLabelValues("node-b", "incremental").Inc()

	timer := metrics.NewTimer()
	// ... perform sync round ...
	timer.ObserveDurationVec(metrics.SyncDuration, "incremental")

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/sync: records sync round counts, duration, entities sent/applied, conflicts
  - pkg/transport: records outbound request counts and duration
  - pkg/prune: records prune cycle counts, duration, rows removed
  - pkg/sync (via Collector): samples Store.Stats on a ticker to keep gauges current

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate registration.

Label Discipline:
  - session is the only unbounded-ish label in use, and only on two gauges;
    peer and strategy/kind/outcome labels are all small fixed sets.

Timer Pattern:
  - Create a Timer at operation start, call ObserveDuration/ObserveDurationVec
    when the operation finishes.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics

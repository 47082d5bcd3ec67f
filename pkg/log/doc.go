/*
Package log provides structured logging for graphsync using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with context-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("engine")                  │          │
	│  │  - WithInstance("host-a-7f2c...")           │          │
	│  │  - WithSession("session-42")                │          │
	│  │  - WithGraph("project-knowledge")           │          │
	│  │  - WithPeer("host-b-9e1a...")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "engine",                   │          │
	│  │    "time": "2026-08-01T10:30:00Z",         │          │
	│  │    "message": "sync round completed"        │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF sync round completed component=engine │  │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Log Levels

Debug:
  - Per-entity apply decisions during a sync round (compare/merge outcomes)

Info (default production level):
  - Sync round started/completed, strategy chosen, peer connected

Warn:
  - A conflict required a resolver decision, a peer is unreachable

Error:
  - A sync round failed, a changelog prune failed, storage I/O error

Fatal:
  - Unrecoverable startup errors only (failed to open the bbolt database,
    failed to bind the listen address) — logs and calls os.Exit(1)

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Context loggers, used the way pkg/sync threads them through a sync round:

	syncLog := log.WithPeer(peerID).With().
		Str("session_id", sessionID).
		Str("graph_name", graphName).Logger()
	syncLog.Info().Str("strategy", strategy.String()).Msg("sync round started")

	if outcome.RequiresManualReview {
		syncLog.Warn().
			Str("node_id", nodeID).
			Msg("conflict requires manual review")
	}

# Integration points

  - pkg/sync: logs node start and round-level summaries (completed/failed)
  - pkg/prune: logs changelog prune cycles and rows removed
  - pkg/transport: logs each served sync request and applied payload, and
    their failures
  - pkg/store: logs malformed persisted rows at warn level

pkg/engine does not log; its callers log the outcome of its calls.

# Security

Vector clocks, node/edge payloads, and peer addresses are safe to log.
Never log the contents of a node's properties map — callers may store
arbitrary application data there, including data the operator never
intended to have replicated into logs.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log

/*
Package events provides an in-memory event broker for graphsync's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting
sync-lifecycle events to interested subscribers. It supports asynchronous,
non-blocking event delivery, enabling loose coupling between the sync engine,
the changelog pruner, and transport layer from anything that wants to observe
what happened without being on the hot path.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                    │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                  │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                        │          │
	│  │                                              │          │
	│  │  Sync Events:                                │          │
	│  │    - sync.started                            │          │
	│  │    - sync.completed                          │          │
	│  │    - sync.failed                             │          │
	│  │                                              │          │
	│  │  Conflict Events:                            │          │
	│  │    - conflict.detected                       │          │
	│  │    - conflict.resolved                       │          │
	│  │    - conflict.escalated                      │          │
	│  │                                              │          │
	│  │  Graph Lifecycle Events:                     │          │
	│  │    - tombstone.applied                       │          │
	│  │    - graph.sync_enabled                      │          │
	│  │    - graph.sync_disabled                     │          │
	│  │    - changelog.pruned                        │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Publishers                        │          │
	│  │                                              │          │
	│  │  sync: sync.started/completed/failed         │          │
	│  │  prune: changelog.pruned after each cycle    │          │
	│  │  (no package here subscribes)                │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Usage

Creating a broker and publishing an event:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.Publish(&events.Event{
		ID:   uuid.New().String(),
		Type: events.EventSyncCompleted,
		Metadata: map[string]string{
			"peer":    peerID,
			"session": sessionID,
		},
	})

Subscribing to observe all events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		log.Info().Str("type", string(ev.Type)).Msg("event received")
	}

# Delivery semantics

Publish never blocks on a slow subscriber: each subscriber channel has its
own bounded buffer, and a full buffer causes that subscriber (and only that
subscriber) to silently miss the event. Events are not persisted or replayed
— a subscriber that connects after an event was published never sees it.
Anything that needs durability (the changelog, sync state) already has its
own bbolt-backed record independent of this package.

# Integration points

  - pkg/sync publishes sync.started before each SyncWithPeer round and
    sync.completed or sync.failed after it.
  - pkg/prune publishes changelog.pruned after each prune cycle.
  - The conflict.*, tombstone.applied and graph.* event types are defined
    but no package publishes them, and no package in this repository
    subscribes to the broker.
*/
package events

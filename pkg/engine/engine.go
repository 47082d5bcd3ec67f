// Package engine drives one sync round end to end: deciding whether a
// peer needs a Full or Incremental exchange, building the outgoing
// payload, and applying an incoming one against the local Store. It is
// the only package that invokes the resolver, and the only package
// that advances a peer's persisted sync_state.
package engine

import (
	"sync"
	"time"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
	"github.com/specai/graphsync/pkg/protocol"
	"github.com/specai/graphsync/pkg/resolver"
	"github.com/specai/graphsync/pkg/store"
)

// Strategy is the Engine's decision for how to satisfy one sync round.
type Strategy int

const (
	Full Strategy = iota
	Incremental
)

func (s Strategy) String() string {
	if s == Full {
		return "full"
	}
	return "incremental"
}

// Config tunes strategy selection. The zero value is not useful; start
// from DefaultConfig.
type Config struct {
	// FullSyncChangeRatio is the fraction of a session's live node count
	// that, if exceeded by changelog rows within StrategyWindow, forces
	// a Full sync instead of an Incremental one.
	FullSyncChangeRatio float64
	// StrategyWindow bounds how far back the changelog is scanned when
	// computing the change ratio above.
	StrategyWindow time.Duration
	// IncrementalHorizon is the oldest changelog age an Incremental sync
	// is willing to rely on; it exists for operator tuning of prune
	// schedules and is not consulted directly by DecideSyncStrategy,
	// which instead compares against the changelog's actual oldest
	// surviving row (see the redesign note below).
	IncrementalHorizon time.Duration
}

// DefaultConfig returns the production defaults for strategy selection.
func DefaultConfig() Config {
	return Config{
		FullSyncChangeRatio: 0.30,
		StrategyWindow:      24 * time.Hour,
		IncrementalHorizon:  7 * 24 * time.Hour,
	}
}

// historyLimit bounds the in-memory LastSyncStats ring buffer.
const historyLimit = 8

// Stats summarizes one completed sync round, kept for operator
// inspection via LastSyncStats.
type Stats struct {
	Peer              string
	Session           string
	GraphName         string
	Strategy          Strategy
	NodesSent         int
	EdgesSent         int
	TombstonesSent    int
	NodesApplied      int
	EdgesApplied      int
	TombstonesApplied int
	ConflictsDetected int
	ConflictsResolved int
	At                time.Time
}

// Engine combines the Store with the resolver Policy and the strategy
// knobs above. It holds no network state; transport packages call its
// methods and move bytes.
type Engine struct {
	store   *store.Store
	cfg     Config
	policy  resolver.Policy
	mu      sync.Mutex
	history []Stats
}

// New builds an Engine over store with the given Config. A nil Policy
// falls back to resolver.DefaultPolicy.
func New(st *store.Store, cfg Config, policy resolver.Policy) *Engine {
	if policy == nil {
		policy = resolver.DefaultPolicy
	}
	return &Engine{store: st, cfg: cfg, policy: policy}
}

func (e *Engine) recordStats(st Stats) {
	st.At = time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, st)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
}

// LastSyncStats returns the most recent sync rounds, oldest first,
// capped at 8 entries.
func (e *Engine) LastSyncStats() []Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Stats, len(e.history))
	copy(out, e.history)
	return out
}

// currentClock derives the session's aggregate vector clock: the
// pointwise maximum over every sync-enabled node and edge, live or
// deleted. It is what the Engine advertises as "my current state" in
// an outgoing payload.
func (e *Engine) currentClock(session string) (clock.Clock, error) {
	vc := clock.New()
	nodes, err := e.store.ListNodesWithSync(session, true, true)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		vc = vc.Merge(n.VectorClock)
	}
	edges, err := e.store.ListEdgesWithSync(session, true, true)
	if err != nil {
		return nil, err
	}
	for _, ed := range edges {
		vc = vc.Merge(ed.VectorClock)
	}
	return vc, nil
}

// CurrentClock exposes currentClock for callers outside the package
// (pkg/sync needs it to build the initial RequestFull/RequestIncremental
// payload before it knows which strategy the peer will pick).
func (e *Engine) CurrentClock(session string) (clock.Clock, error) {
	return e.currentClock(session)
}

// DecideSyncStrategy picks Full vs. Incremental for one sync round:
//
//  1. No persisted sync_state for peer, or either clock is empty: Full.
//  2. No live nodes in session: Full (nothing to lose by resending).
//  3. Changelog rows within StrategyWindow, as a fraction of live node
//     count, exceeding FullSyncChangeRatio: Full.
//  4. If the changelog's oldest surviving row is newer, for our own
//     instance id, than the counter peer last reported it had seen
//     from us, an Incremental sync cannot bridge the gap — the entries
//     that would fill it were already pruned. Force Full.
//  5. Otherwise: Incremental.
func (e *Engine) DecideSyncStrategy(peer, session, graphName string, theirClock clock.Clock) (Strategy, error) {
	ours, found, err := e.store.SyncStateGet(peer, session, graphName)
	if err != nil {
		return Full, err
	}
	if !found || len(ours) == 0 || len(theirClock) == 0 {
		return Full, nil
	}

	nodeCount, err := e.store.CountNodes(session)
	if err != nil {
		return Full, err
	}
	if nodeCount == 0 {
		return Full, nil
	}

	since := time.Now().Add(-e.cfg.StrategyWindow)
	changes, err := e.store.ChangelogGetSince(session, since)
	if err != nil {
		return Full, err
	}
	ratio := float64(len(changes)) / float64(nodeCount)
	if ratio > e.cfg.FullSyncChangeRatio {
		return Full, nil
	}

	oldest, err := e.store.OldestChangelogEntry(session)
	if err != nil {
		return Full, err
	}
	if oldest != nil && theirClock.Get(e.store.InstanceID()) < oldest.VectorClock.Get(e.store.InstanceID()) {
		return Full, nil
	}

	return Incremental, nil
}

// SyncFull builds the response to a RequestFull: every live sync-enabled
// node and edge, no tombstones, stamped with this instance's current
// aggregate clock.
func (e *Engine) SyncFull(peer, session, graphName string) (protocol.Payload, error) {
	nodes, err := e.store.ListNodesWithSync(session, true, false)
	if err != nil {
		return protocol.Payload{}, err
	}
	edges, err := e.store.ListEdgesWithSync(session, true, false)
	if err != nil {
		return protocol.Payload{}, err
	}
	vc, err := e.currentClock(session)
	if err != nil {
		return protocol.Payload{}, err
	}

	e.recordStats(Stats{Peer: peer, Session: session, GraphName: graphName, Strategy: Full, NodesSent: len(nodes), EdgesSent: len(edges)})
	return protocol.NewFullPayload(session, graphName, vc, nodes, edges), nil
}

// SyncIncremental builds the response to a RequestIncremental: only the
// nodes, edges, and tombstones peerClock does not already dominate.
// "Does not dominate" is decided per entity, via the entity's own
// clock compared against peerClock — Before or Equal means the peer
// has already seen it, anything else (After or Concurrent) means it
// has not.
func (e *Engine) SyncIncremental(peer, session, graphName string, peerClock clock.Clock) (protocol.Payload, error) {
	needsSending := func(entityClock clock.Clock) bool {
		switch entityClock.Compare(peerClock) {
		case clock.Before, clock.Equal:
			return false
		default:
			return true
		}
	}

	allNodes, err := e.store.ListNodesWithSync(session, true, true)
	if err != nil {
		return protocol.Payload{}, err
	}
	var nodes []graph.SyncedNode
	var tombstones []graph.Tombstone
	for _, n := range allNodes {
		if !needsSending(n.VectorClock) {
			continue
		}
		if n.IsDeleted {
			tombstones = append(tombstones, graph.Tombstone{
				EntityType:  graph.EntityTypeNode,
				EntityID:    n.ID,
				VectorClock: n.VectorClock,
				DeletedBy:   n.LastModifiedBy,
				DeletedAt:   n.UpdatedAt,
			})
			continue
		}
		nodes = append(nodes, n)
	}

	allEdges, err := e.store.ListEdgesWithSync(session, true, true)
	if err != nil {
		return protocol.Payload{}, err
	}
	var edges []graph.SyncedEdge
	for _, ed := range allEdges {
		if !needsSending(ed.VectorClock) {
			continue
		}
		if ed.IsDeleted {
			tombstones = append(tombstones, graph.Tombstone{
				EntityType:  graph.EntityTypeEdge,
				EntityID:    ed.ID,
				VectorClock: ed.VectorClock,
				DeletedBy:   ed.LastModifiedBy,
				DeletedAt:   time.Now(),
			})
			continue
		}
		edges = append(edges, ed)
	}

	vc, err := e.currentClock(session)
	if err != nil {
		return protocol.Payload{}, err
	}

	e.recordStats(Stats{Peer: peer, Session: session, GraphName: graphName, Strategy: Incremental, NodesSent: len(nodes), EdgesSent: len(edges), TombstonesSent: len(tombstones)})
	return protocol.NewIncrementalPayload(session, graphName, vc, nodes, edges, tombstones), nil
}

// RunSync is the requester-side convenience wrapper: decide, then build
// the matching payload.
func (e *Engine) RunSync(peer, session, graphName string, theirClock clock.Clock) (protocol.Payload, Strategy, error) {
	strategy, err := e.DecideSyncStrategy(peer, session, graphName, theirClock)
	if err != nil {
		return protocol.Payload{}, strategy, err
	}
	var payload protocol.Payload
	if strategy == Full {
		payload, err = e.SyncFull(peer, session, graphName)
	} else {
		payload, err = e.SyncIncremental(peer, session, graphName, theirClock)
	}
	return payload, strategy, err
}

// ApplySync applies an incoming payload against the local Store,
// invoking the resolver only when an entity's incoming and local
// clocks are Concurrent, and advances what we remember about peer's
// state to payload.VectorClock on success.
func (e *Engine) ApplySync(peer string, payload protocol.Payload) (protocol.Ack, error) {
	var nodesApplied, edgesApplied, tombstonesApplied, conflictsDetected, conflictsResolved int

	for _, incoming := range payload.Nodes {
		applied, detected, resolved, err := e.applyNode(incoming)
		if err != nil {
			return protocol.Ack{}, err
		}
		if applied {
			nodesApplied++
		}
		conflictsDetected += detected
		conflictsResolved += resolved
	}

	for _, incoming := range payload.Edges {
		applied, detected, resolved, err := e.applyEdge(incoming)
		if err != nil {
			return protocol.Ack{}, err
		}
		if applied {
			edgesApplied++
		}
		conflictsDetected += detected
		conflictsResolved += resolved
	}

	for _, t := range payload.Tombstones {
		applied, err := e.applyTombstone(t)
		if err != nil {
			return protocol.Ack{}, err
		}
		if applied {
			tombstonesApplied++
		}
	}

	if err := e.store.SyncStateUpdate(peer, payload.SessionID, payload.GraphName, payload.VectorClock); err != nil {
		return protocol.Ack{}, err
	}

	ourClock, err := e.currentClock(payload.SessionID)
	if err != nil {
		return protocol.Ack{}, err
	}

	strategy := Incremental
	if payload.SyncType == protocol.Full {
		strategy = Full
	}
	e.recordStats(Stats{
		Peer: peer, Session: payload.SessionID, GraphName: payload.GraphName, Strategy: strategy,
		NodesApplied: nodesApplied, EdgesApplied: edgesApplied, TombstonesApplied: tombstonesApplied,
		ConflictsDetected: conflictsDetected, ConflictsResolved: conflictsResolved,
	})

	return protocol.NewAck(nodesApplied, edgesApplied, tombstonesApplied, conflictsDetected, ourClock), nil
}

// applyNode applies one incoming SyncedNode and reports whether a
// write happened, plus how many conflicts it detected/resolved.
func (e *Engine) applyNode(incoming graph.SyncedNode) (applied bool, detected, resolved int, err error) {
	local, err := e.store.GetNodeWithSync(incoming.ID)
	if err != nil {
		return false, 0, 0, err
	}
	if local == nil {
		if err := e.store.PutSyncedNode(incoming); err != nil {
			return false, 0, 0, err
		}
		return true, 0, 0, nil
	}

	switch incoming.VectorClock.Compare(local.VectorClock) {
	case clock.Before, clock.Equal:
		return false, 0, 0, nil
	case clock.After:
		if err := e.store.PutSyncedNode(incoming); err != nil {
			return false, 0, 0, err
		}
		return true, 0, 0, nil
	default: // Concurrent
		res := e.policy.ResolveNode(incoming, *local, local.VectorClock)
		merged := incoming.VectorClock.Merge(local.VectorClock)
		switch res.Outcome {
		case resolver.AcceptRemote:
			next := incoming
			next.VectorClock = merged
			if err := e.store.PutSyncedNode(next); err != nil {
				return false, 1, 1, err
			}
			return true, 1, 1, nil
		case resolver.Merged:
			next := local
			if res.MergedValue != nil {
				mv := *res.MergedValue
				next = &mv
			}
			next.VectorClock = merged
			if err := e.store.PutSyncedNode(*next); err != nil {
				return false, 1, 1, err
			}
			return true, 1, 1, nil
		case resolver.RequiresManualReview:
			return false, 1, 0, nil
		default: // KeepLocal
			if err := e.store.UpdateNodeSyncMetadata(local.ID, merged, local.LastModifiedBy, local.SyncEnabled); err != nil {
				return false, 1, 1, err
			}
			return false, 1, 1, nil
		}
	}
}

func (e *Engine) applyEdge(incoming graph.SyncedEdge) (applied bool, detected, resolved int, err error) {
	local, err := e.store.GetEdgeWithSync(incoming.ID)
	if err != nil {
		return false, 0, 0, err
	}
	if local == nil {
		if err := e.store.PutSyncedEdge(incoming); err != nil {
			return false, 0, 0, err
		}
		return true, 0, 0, nil
	}

	switch incoming.VectorClock.Compare(local.VectorClock) {
	case clock.Before, clock.Equal:
		return false, 0, 0, nil
	case clock.After:
		if err := e.store.PutSyncedEdge(incoming); err != nil {
			return false, 0, 0, err
		}
		return true, 0, 0, nil
	default: // Concurrent
		res := e.policy.ResolveEdge(incoming, *local, local.VectorClock)
		merged := incoming.VectorClock.Merge(local.VectorClock)
		switch res.Outcome {
		case resolver.AcceptRemote, resolver.Merged:
			next := incoming
			next.VectorClock = merged
			if err := e.store.PutSyncedEdge(next); err != nil {
				return false, 1, 1, err
			}
			return true, 1, 1, nil
		case resolver.RequiresManualReview:
			return false, 1, 0, nil
		default: // KeepLocal
			if err := e.store.UpdateEdgeSyncMetadata(local.ID, merged, local.LastModifiedBy, local.SyncEnabled); err != nil {
				return false, 1, 1, err
			}
			return false, 1, 1, nil
		}
	}
}

// applyTombstone applies one incoming Tombstone, marking the local
// entity deleted only when the tombstone's clock is not already
// dominated by the local entity's current clock.
func (e *Engine) applyTombstone(t graph.Tombstone) (bool, error) {
	switch t.EntityType {
	case graph.EntityTypeNode:
		local, err := e.store.GetNodeWithSync(t.EntityID)
		if err != nil {
			return false, err
		}
		if local == nil || local.IsDeleted {
			return false, nil
		}
		switch t.VectorClock.Compare(local.VectorClock) {
		case clock.Before, clock.Equal:
			return false, nil
		default:
			merged := t.VectorClock.Merge(local.VectorClock)
			if err := e.store.MarkNodeDeleted(t.EntityID, merged, t.DeletedBy); err != nil {
				return false, err
			}
			return true, nil
		}
	case graph.EntityTypeEdge:
		local, err := e.store.GetEdgeWithSync(t.EntityID)
		if err != nil {
			return false, err
		}
		if local == nil || local.IsDeleted {
			return false, nil
		}
		switch t.VectorClock.Compare(local.VectorClock) {
		case clock.Before, clock.Equal:
			return false, nil
		default:
			merged := t.VectorClock.Merge(local.VectorClock)
			if err := e.store.MarkEdgeDeleted(t.EntityID, merged, t.DeletedBy); err != nil {
				return false, err
			}
			return true, nil
		}
	default:
		return false, nil
	}
}

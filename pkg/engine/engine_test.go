package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
	"github.com/specai/graphsync/pkg/protocol"
	"github.com/specai/graphsync/pkg/store"
)

func newTestEngine(t *testing.T, instanceID string) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir(), instanceID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, DefaultConfig(), nil), s
}

// seedLiveNode writes a live node directly, bypassing InsertNode so it
// never produces a changelog row — used to inflate a session's node
// count independently of its recent change ratio.
func seedLiveNode(t *testing.T, s *store.Store, id int64, session, instanceID string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.PutSyncedNode(graph.SyncedNode{
		Node: graph.Node{ID: id, SessionID: session, NodeType: graph.NodeTypeEntity, Label: "seed", CreatedAt: now, UpdatedAt: now},
		SyncMeta: graph.SyncMeta{
			VectorClock:    clock.Clock{instanceID: 1},
			LastModifiedBy: instanceID,
			SyncEnabled:    true,
		},
	}))
}

// No persisted sync_state forces a Full sync regardless of graph size.
func TestDecideSyncStrategyFullWhenNoSyncState(t *testing.T) {
	e, s := newTestEngine(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("sess", "default", true))
	_, err := s.InsertNode("sess", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)

	strategy, err := e.DecideSyncStrategy("peer", "sess", "default", clock.Clock{"peer": 1})
	require.NoError(t, err)
	require.Equal(t, Full, strategy)
}

// Once sync_state exists and the change ratio is low, Incremental wins.
func TestDecideSyncStrategyIncrementalWhenRatioLow(t *testing.T) {
	e, s := newTestEngine(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("sess", "default", true))
	for i := int64(1); i <= 10; i++ {
		seedLiveNode(t, s, i, "sess", "I1")
	}
	// One changelogged mutation against 11 live nodes keeps the change
	// ratio at 1/11 (about 0.09), under the 0.30 threshold.
	_, err := s.InsertNode("sess", graph.NodeTypeEntity, "n", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.SyncStateUpdate("peer", "sess", "default", clock.Clock{"peer": 1}))

	// The peer reports having seen I1's counter 1, so it is not behind the
	// oldest surviving changelog row ({"I1": 1}) either.
	strategy, err := e.DecideSyncStrategy("peer", "sess", "default", clock.Clock{"I1": 1, "peer": 1})
	require.NoError(t, err)
	require.Equal(t, Incremental, strategy)
}

// A peer whose remembered counter for us predates the changelog's
// oldest surviving row cannot be caught up incrementally.
func TestDecideSyncStrategyForcesFullWhenBehindPrunedHorizon(t *testing.T) {
	e, s := newTestEngine(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("sess", "default", true))
	for i := int64(1); i <= 10; i++ {
		seedLiveNode(t, s, i, "sess", "I1")
	}
	// The one changelogged mutation bumps I1's counter to 1, so the
	// oldest surviving changelog row carries VectorClock{"I1": 1}.
	_, err := s.InsertNode("sess", graph.NodeTypeEntity, "n", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.SyncStateUpdate("peer", "sess", "default", clock.Clock{"peer": 1}))

	// peer last reported having seen nothing from I1 (counter 0), which
	// is strictly behind the oldest surviving row's counter of 1 — the
	// entries that would bridge the gap were already pruned.
	strategy, err := e.DecideSyncStrategy("peer", "sess", "default", clock.Clock{"I1": 0, "peer": 1})
	require.NoError(t, err)
	require.Equal(t, Full, strategy)
}

// A Full sync round-trips every live sync-enabled node and edge.
func TestSyncFullThenApplyRoundTrip(t *testing.T) {
	src, srcStore := newTestEngine(t, "I1")
	dst, _ := newTestEngine(t, "I2")

	require.NoError(t, srcStore.GraphSetSyncEnabled("sess", "default", true))
	a, err := srcStore.InsertNode("sess", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)
	b, err := srcStore.InsertNode("sess", graph.NodeTypeEntity, "B", nil, nil)
	require.NoError(t, err)
	_, err = srcStore.InsertEdge("sess", a, b, graph.EdgeTypeRelatesTo, nil, nil, 1.0, nil, nil)
	require.NoError(t, err)

	payload, err := src.SyncFull("I2", "sess", "default")
	require.NoError(t, err)
	require.Equal(t, protocol.Full, payload.SyncType)
	require.Len(t, payload.Nodes, 2)
	require.Len(t, payload.Edges, 1)

	ack, err := dst.ApplySync("I1", payload)
	require.NoError(t, err)
	require.Equal(t, 2, ack.NodesApplied)
	require.Equal(t, 1, ack.EdgesApplied)
	require.Equal(t, 0, ack.ConflictsDetected)
}

// An Incremental payload after a prior Full only carries what
// changed since, and ApplySync is a pure no-op for entities the
// receiver already dominates.
func TestSyncIncrementalOnlySendsUnseenEntities(t *testing.T) {
	src, srcStore := newTestEngine(t, "I1")
	dst, _ := newTestEngine(t, "I2")

	require.NoError(t, srcStore.GraphSetSyncEnabled("sess", "default", true))
	a, err := srcStore.InsertNode("sess", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)

	full, err := src.SyncFull("I2", "sess", "default")
	require.NoError(t, err)
	ack, err := dst.ApplySync("I1", full)
	require.NoError(t, err)
	require.Equal(t, 1, ack.NodesApplied)

	// I1 learns a new node after the first round; I2's clock is now
	// behind by exactly that one creation.
	_, err = srcStore.InsertNode("sess", graph.NodeTypeEntity, "B", nil, nil)
	require.NoError(t, err)

	inc, err := src.SyncIncremental("I2", "sess", "default", ack.VectorClock)
	require.NoError(t, err)
	require.Equal(t, protocol.Incremental, inc.SyncType)
	require.Len(t, inc.Nodes, 1)
	require.Equal(t, "B", inc.Nodes[0].Label)

	ack2, err := dst.ApplySync("I1", inc)
	require.NoError(t, err)
	require.Equal(t, 1, ack2.NodesApplied)

	_ = a
}

// A concurrent update to the same node on both sides resolves
// deterministically via the resolver, counted as a detected and
// resolved conflict.
func TestApplySyncResolvesConcurrentConflict(t *testing.T) {
	dst, dstStore := newTestEngine(t, "I2")
	require.NoError(t, dstStore.GraphSetSyncEnabled("sess", "default", true))
	id, err := dstStore.InsertNode("sess", graph.NodeTypeEntity, "local", []byte(`{"v":1}`), nil)
	require.NoError(t, err)
	local, err := dstStore.GetNodeWithSync(id)
	require.NoError(t, err)

	incoming := graph.SyncedNode{
		Node: graph.Node{ID: id, SessionID: "sess", NodeType: graph.NodeTypeEntity, Label: "remote", Properties: []byte(`{"v":2}`)},
		SyncMeta: graph.SyncMeta{
			VectorClock:    clock.Clock{"I9": 1},
			LastModifiedBy: "I9",
			SyncEnabled:    true,
		},
	}
	require.Equal(t, clock.Concurrent, incoming.VectorClock.Compare(local.VectorClock))

	payload := protocol.NewIncrementalPayload("sess", "default", incoming.VectorClock, []graph.SyncedNode{incoming}, nil, nil)
	ack, err := dst.ApplySync("I9", payload)
	require.NoError(t, err)
	require.Equal(t, 1, ack.ConflictsDetected)

	got, err := dstStore.GetNodeWithSync(id)
	require.NoError(t, err)
	// I9 > I2 lexicographically, so last-writer-wins accepts remote.
	require.Equal(t, "remote", got.Label)
}

// A tombstone delivered incrementally marks the local node deleted.
func TestApplyTombstoneMarksLocalDeleted(t *testing.T) {
	src, srcStore := newTestEngine(t, "I1")
	dst, _ := newTestEngine(t, "I2")
	require.NoError(t, srcStore.GraphSetSyncEnabled("sess", "default", true))

	id, err := srcStore.InsertNode("sess", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)

	full, err := src.SyncFull("I2", "sess", "default")
	require.NoError(t, err)
	_, err = dst.ApplySync("I1", full)
	require.NoError(t, err)

	require.NoError(t, srcStore.DeleteNode(id))
	inc, err := src.SyncIncremental("I2", "sess", "default", clock.Clock{"I1": 1})
	require.NoError(t, err)
	require.Len(t, inc.Tombstones, 1)

	ack, err := dst.ApplySync("I1", inc)
	require.NoError(t, err)
	require.Equal(t, 1, ack.TombstonesApplied)

	got, err := dst.store.GetNode(id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLastSyncStatsIsBoundedRingBuffer(t *testing.T) {
	e, s := newTestEngine(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("sess", "default", true))

	for i := 0; i < historyLimit+3; i++ {
		_, err := e.SyncFull("peer", "sess", "default")
		require.NoError(t, err)
	}
	require.Len(t, e.LastSyncStats(), historyLimit)
}

package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

func newTestStore(t *testing.T, instanceID string) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, instanceID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Local round-trip: insert, fetch, mutate, fetch again.
func TestInsertUpdateNodeLocalRoundTrip(t *testing.T) {
	s := newTestStore(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("s", "default", true))

	id, err := s.InsertNode("s", graph.NodeTypeEntity, "Alpha", []byte(`{"k":1}`), nil)
	require.NoError(t, err)

	nodes, err := s.ListNodes("s", nil, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "Alpha", nodes[0].Label)

	synced, err := s.GetNodeWithSync(id)
	require.NoError(t, err)
	require.Equal(t, clock.Clock{"I1": 1}, synced.VectorClock)

	changes, err := s.ChangelogGetSince("s", time.Time{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, graph.OperationCreate, changes[0].Operation)

	require.NoError(t, s.UpdateNode(id, []byte(`{"k":2}`)))

	synced, err = s.GetNodeWithSync(id)
	require.NoError(t, err)
	require.Equal(t, clock.Clock{"I1": 2}, synced.VectorClock)

	changes, err = s.ChangelogGetSince("s", time.Time{})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, graph.OperationCreate, changes[0].Operation)
	require.Equal(t, graph.OperationUpdate, changes[1].Operation)
}

// Tombstone propagation at the local store layer.
func TestDeleteNodeSoftDeletesAndTombstones(t *testing.T) {
	s := newTestStore(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("s", "default", true))

	id, err := s.InsertNode("s", graph.NodeTypeEntity, "Y", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(id))

	got, err := s.GetNode(id)
	require.NoError(t, err)
	require.Nil(t, got)

	withSync, err := s.GetNodeWithSync(id)
	require.NoError(t, err)
	require.True(t, withSync.IsDeleted)

	withDeleted, err := s.ListNodesWithSync("s", false, true)
	require.NoError(t, err)
	require.Len(t, withDeleted, 1)
	require.True(t, withDeleted[0].IsDeleted)

	withoutDeleted, err := s.ListNodesWithSync("s", false, false)
	require.NoError(t, err)
	require.Len(t, withoutDeleted, 0)

	changes, err := s.ChangelogGetSince("s", time.Time{})
	require.NoError(t, err)
	require.Equal(t, graph.OperationDelete, changes[len(changes)-1].Operation)
}

func TestInsertEdgeRejectsMissingEndpoints(t *testing.T) {
	s := newTestStore(t, "I1")
	_, err := s.InsertEdge("s", 1, 2, graph.EdgeTypeRelatesTo, nil, nil, 1.0, nil, nil)
	require.Error(t, err)
	var refErr *ReferentialError
	require.ErrorAs(t, err, &refErr)
}

// BFS path and neighbor traversal.
func TestFindShortestPathAndTraverseNeighbors(t *testing.T) {
	s := newTestStore(t, "I1")

	a, err := s.InsertNode("s", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)
	b, err := s.InsertNode("s", graph.NodeTypeEntity, "B", nil, nil)
	require.NoError(t, err)
	c, err := s.InsertNode("s", graph.NodeTypeEntity, "C", nil, nil)
	require.NoError(t, err)

	_, err = s.InsertEdge("s", a, b, graph.EdgeTypeRelatesTo, nil, nil, 1.0, nil, nil)
	require.NoError(t, err)
	_, err = s.InsertEdge("s", b, c, graph.EdgeTypeRelatesTo, nil, nil, 1.0, nil, nil)
	require.NoError(t, err)

	path, err := s.FindShortestPath("s", a, c, 5)
	require.NoError(t, err)
	require.NotNil(t, path)
	require.Equal(t, 2, path.Hops)
	require.Len(t, path.Nodes, 3)

	none, err := s.FindShortestPath("s", a, c, 1)
	require.NoError(t, err)
	require.Nil(t, none)

	neighbors, err := s.TraverseNeighbors("s", a, graph.Outgoing, 2)
	require.NoError(t, err)
	labels := map[string]bool{}
	for _, n := range neighbors {
		labels[n.Label] = true
	}
	require.True(t, labels["B"])
	require.True(t, labels["C"])

	empty, err := s.TraverseNeighbors("s", a, graph.Outgoing, 0)
	require.NoError(t, err)
	require.Len(t, empty, 0)
}

// Reads against an empty/unknown session return zero values, never errors.
func TestEmptySessionBoundaries(t *testing.T) {
	s := newTestStore(t, "I1")

	nodes, err := s.ListNodes("nope", nil, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 0)

	count, err := s.CountNodes("nope")
	require.NoError(t, err)
	require.Equal(t, 0, count)

	path, err := s.FindShortestPath("nope", 1, 2, 5)
	require.NoError(t, err)
	require.Nil(t, path)
}

// Pruning removes only rows strictly older than the cutoff.
func TestChangelogPruneRetainsRecentRows(t *testing.T) {
	s := newTestStore(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("s", "default", true))

	_, err := s.InsertNode("s", graph.NodeTypeEntity, "fresh", nil, nil)
	require.NoError(t, err)

	removed, err := s.ChangelogPrune(7)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	changes, err := s.ChangelogGetSince("s", time.Time{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
}

// Malformed persisted clock decodes to empty, never an error.
func TestMalformedClockDecodesEmpty(t *testing.T) {
	require.Equal(t, clock.New(), clock.FromJSON([]byte("{}")))
	require.Equal(t, clock.New(), clock.FromJSON([]byte("garbage")))
}

func TestGraphListIncludesImplicitDefault(t *testing.T) {
	s := newTestStore(t, "I1")
	_, err := s.InsertNode("s", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.GraphSetSyncEnabled("s", "archive", true))

	graphs, err := s.GraphList("s")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, g := range graphs {
		names[g] = true
	}
	require.True(t, names["default"])
	require.True(t, names["archive"])
}

func TestSyncStateUpdateIsAtomicReplace(t *testing.T) {
	s := newTestStore(t, "I1")

	require.NoError(t, s.SyncStateUpdate("peer", "s", "default", clock.Clock{"I1": 1}))
	got, found, err := s.SyncStateGet("peer", "s", "default")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, clock.Clock{"I1": 1}, got)

	require.NoError(t, s.SyncStateUpdate("peer", "s", "default", clock.Clock{"I1": 2}))
	got, found, err = s.SyncStateGet("peer", "s", "default")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, clock.Clock{"I1": 2}, got)
}

func TestGraphSyncEnabledDefaultsFalse(t *testing.T) {
	s := newTestStore(t, "I1")
	enabled, err := s.GraphGetSyncEnabled("s", "default")
	require.NoError(t, err)
	require.False(t, enabled)
}

// Edge mirror of TestInsertUpdateNodeLocalRoundTrip / TestDeleteNodeSoftDeletesAndTombstones.
func TestEdgeCRUDRoundTripAndSoftDelete(t *testing.T) {
	s := newTestStore(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("s", "default", true))

	a, err := s.InsertNode("s", graph.NodeTypeEntity, "A", nil, nil)
	require.NoError(t, err)
	b, err := s.InsertNode("s", graph.NodeTypeEntity, "B", nil, nil)
	require.NoError(t, err)

	id, err := s.InsertEdge("s", a, b, graph.EdgeTypeRelatesTo, nil, []byte(`{"k":1}`), 1.0, nil, nil)
	require.NoError(t, err)

	edges, err := s.ListEdges("s", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	require.NoError(t, s.UpdateEdge(id, []byte(`{"k":2}`)))

	got, err := s.GetEdge(id)
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`{"k":2}`), got.Properties)

	require.NoError(t, s.DeleteEdge(id))

	afterDelete, err := s.GetEdge(id)
	require.NoError(t, err)
	require.Nil(t, afterDelete)

	withSync, err := s.GetEdgeWithSync(id)
	require.NoError(t, err)
	require.True(t, withSync.IsDeleted)
}

func TestStatsAggregatesNodesEdgesTombstonesChangelog(t *testing.T) {
	s := newTestStore(t, "I1")
	require.NoError(t, s.GraphSetSyncEnabled("s", "default", true))

	aID, err := s.InsertNode("s", graph.NodeTypeEntity, "A", []byte(`{}`), nil)
	require.NoError(t, err)
	bID, err := s.InsertNode("s", graph.NodeTypeEntity, "B", []byte(`{}`), nil)
	require.NoError(t, err)
	_, err = s.InsertEdge("s", aID, bID, graph.EdgeTypeRelatesTo, nil, nil, 1.0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteNode(bID))

	stats, err := s.Stats("s")
	require.NoError(t, err)
	require.Equal(t, 1, stats.NodeCount) // b is soft-deleted, excluded from default listing
	require.Equal(t, 1, stats.TombstoneCount)
	require.GreaterOrEqual(t, stats.ChangelogCount, 3) // 2 creates + 1 edge create, delete counted too
	require.Contains(t, stats.Graphs, "default")
}

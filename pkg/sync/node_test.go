package sync

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specai/graphsync/pkg/config"
	"github.com/specai/graphsync/pkg/graph"
)

func newTestNode(t *testing.T, instanceID string, sessions ...string) (*Node, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.InstanceID = instanceID
	cfg.Sessions = sessions
	cfg.PruneInterval = time.Hour

	n, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { n.Stop() })

	ts := httptest.NewServer(n.server.Handler())
	t.Cleanup(ts.Close)
	return n, ts
}

func addrOf(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestSyncWithPeerReplicatesBothDirections(t *testing.T) {
	a, aSrv := newTestNode(t, "node-a", "session-1")
	b, bSrv := newTestNode(t, "node-b", "session-1")

	require.NoError(t, a.store.GraphSetSyncEnabled("session-1", "default", true))
	require.NoError(t, b.store.GraphSetSyncEnabled("session-1", "default", true))

	_, err := a.store.InsertNode("session-1", graph.NodeTypeEntity, "FromA", []byte(`{}`), nil)
	require.NoError(t, err)
	_, err = b.store.InsertNode("session-1", graph.NodeTypeEntity, "FromB", []byte(`{}`), nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = a.SyncWithPeer(ctx, "node-b", addrOf(bSrv), "session-1", "default")
	require.NoError(t, err)

	// node-a should now have both nodes locally.
	nodes, err := a.store.ListNodes("session-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	// node-b, having been pushed to, should also have both.
	bNodes, err := b.store.ListNodes("session-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, bNodes, 2)

	_ = aSrv
}

func TestStatsReportsConfiguredSessions(t *testing.T) {
	n, _ := newTestNode(t, "node-a", "session-1", "session-2")
	require.NoError(t, n.store.GraphSetSyncEnabled("session-1", "default", true))

	_, err := n.store.InsertNode("session-1", graph.NodeTypeEntity, "Alpha", []byte(`{}`), nil)
	require.NoError(t, err)

	stats, err := n.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 2)
}

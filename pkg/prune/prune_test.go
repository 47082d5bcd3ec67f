package prune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specai/graphsync/pkg/events"
	"github.com/specai/graphsync/pkg/graph"
	"github.com/specai/graphsync/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir, "I1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunOnceRemovesStaleChangelogRows(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.GraphSetSyncEnabled("session-1", "default", true))

	_, err := s.InsertNode("session-1", graph.NodeTypeEntity, "Alpha", []byte(`{}`), nil)
	require.NoError(t, err)

	// Manually appended row, stamped with the current time; a zero-day
	// retention window removes every row created before the prune call.
	stale, err := s.ChangelogAppend("session-1", graph.EntityTypeNode, 999, graph.OperationCreate, nil, nil)
	require.NoError(t, err)
	require.Greater(t, stale, int64(0))

	p := New(s, nil, 0, time.Hour)
	removed, err := p.RunOnce()
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 1)
}

func TestRunOncePublishesEvent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.GraphSetSyncEnabled("session-1", "default", true))

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	p := New(s, broker, 30, time.Hour)
	_, err := p.RunOnce()
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, events.EventChangelogPruned, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected changelog.pruned event")
	}
}

func TestStartStopDoesNotPanic(t *testing.T) {
	s := newTestStore(t)
	p := New(s, nil, 30, 5*time.Millisecond)
	p.Start()
	time.Sleep(20 * time.Millisecond)
	p.Stop()
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specai/graphsync/pkg/graph"
)

func TestCollectorPublishesStats(t *testing.T) {
	calls := make(chan struct{}, 4)
	c := NewCollector(func() ([]graph.Stats, error) {
		calls <- struct{}{}
		return []graph.Stats{
			{SessionID: "session-a", NodeCount: 3, EdgeCount: 2, TombstoneCount: 1},
			{SessionID: "session-b", NodeCount: 5, EdgeCount: 4, TombstoneCount: 2},
		}, nil
	})
	c.interval = 10 * time.Millisecond

	c.Start()
	defer c.Stop()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("collector never sampled stats")
	}

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues("session-a")); got != 3 {
		t.Errorf("expected nodes_total[session-a]=3, got %v", got)
	}
	if got := testutil.ToFloat64(TombstonesTotal); got != 3 {
		t.Errorf("expected tombstones_total=3, got %v", got)
	}
}

func TestCollectorStopStopsSampling(t *testing.T) {
	calls := 0
	c := NewCollector(func() ([]graph.Stats, error) {
		calls++
		return nil, nil
	})
	c.interval = 5 * time.Millisecond

	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	seenAtStop := calls
	time.Sleep(30 * time.Millisecond)

	if calls > seenAtStop+1 {
		t.Errorf("collector kept sampling after Stop: %d calls after stop (had %d)", calls-seenAtStop, seenAtStop)
	}
}

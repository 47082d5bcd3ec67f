package metrics

import (
	"time"

	"github.com/specai/graphsync/pkg/graph"
)

// Collector periodically samples graph.Stats from a caller-supplied
// source and republishes them as the gauges above. It is deliberately
// decoupled from *store.Store so tests (and the composition root) can
// supply whatever session set is currently being tracked.
type Collector struct {
	statsFn  func() ([]graph.Stats, error)
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a Collector sampling every 15 seconds.
func NewCollector(statsFn func() ([]graph.Stats, error)) *Collector {
	return &Collector{
		statsFn:  statsFn,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats, err := c.statsFn()
	if err != nil {
		return
	}

	tombstones := 0
	changelog := 0
	for _, s := range stats {
		NodesTotal.WithLabelValues(s.SessionID).Set(float64(s.NodeCount))
		EdgesTotal.WithLabelValues(s.SessionID).Set(float64(s.EdgeCount))
		tombstones += s.TombstoneCount
		changelog += s.ChangelogCount
	}
	TombstonesTotal.Set(float64(tombstones))
	ChangelogRowsTotal.Set(float64(changelog))
}

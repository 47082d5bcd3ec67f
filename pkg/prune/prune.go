// Package prune runs the background changelog-retention job: on an
// interval, it deletes changelog rows older than the configured
// retention window so the append-only audit trail doesn't grow without
// bound.
package prune

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/specai/graphsync/pkg/events"
	"github.com/specai/graphsync/pkg/log"
	"github.com/specai/graphsync/pkg/metrics"
	"github.com/specai/graphsync/pkg/store"
)

// Pruner periodically reclaims changelog rows older than RetentionDays.
type Pruner struct {
	store         *store.Store
	broker        *events.Broker
	retentionDays int
	interval      time.Duration
	logger        zerolog.Logger
	mu            sync.Mutex
	stopCh        chan struct{}
}

// New creates a Pruner. broker may be nil; if set, each cycle publishes
// an events.EventChangelogPruned notification.
func New(st *store.Store, broker *events.Broker, retentionDays int, interval time.Duration) *Pruner {
	return &Pruner{
		store:         st,
		broker:        broker,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        log.WithComponent("prune"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the pruning loop.
func (p *Pruner) Start() {
	go p.run()
}

// Stop stops the pruner.
func (p *Pruner) Stop() {
	close(p.stopCh)
}

func (p *Pruner) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Int("retention_days", p.retentionDays).Dur("interval", p.interval).Msg("pruner started")

	for {
		select {
		case <-ticker.C:
			if _, err := p.RunOnce(); err != nil {
				p.logger.Error().Err(err).Msg("prune cycle failed")
			}
		case <-p.stopCh:
			p.logger.Info().Msg("pruner stopped")
			return
		}
	}
}

// RunOnce performs one prune pass and returns the number of rows
// removed. Exported so a pass can be triggered on demand outside the
// ticker loop; cmd/graphsyncd's "changelog prune" subcommand does not use
// it and calls Store.ChangelogPrune directly.
func (p *Pruner) RunOnce() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timer := metrics.NewTimer()
	removed, err := p.store.ChangelogPrune(p.retentionDays)
	timer.ObserveDuration(metrics.PruneDuration)
	metrics.PruneCyclesTotal.Inc()
	if err != nil {
		return 0, err
	}
	metrics.PruneRowsRemovedTotal.Add(float64(removed))

	p.logger.Info().Int("rows_removed", removed).Msg("prune cycle completed")

	if p.broker != nil {
		p.broker.Publish(&events.Event{
			Type:    events.EventChangelogPruned,
			Message: "changelog prune cycle completed",
			Metadata: map[string]string{
				"rows_removed": strconv.Itoa(removed),
			},
		})
	}
	return removed, nil
}

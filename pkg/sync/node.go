// Package sync is the composition root: it wires the store, the engine,
// the event broker, the changelog pruner, and the transport server into
// one runnable instance.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/specai/graphsync/pkg/config"
	"github.com/specai/graphsync/pkg/engine"
	"github.com/specai/graphsync/pkg/events"
	"github.com/specai/graphsync/pkg/graph"
	"github.com/specai/graphsync/pkg/identity"
	"github.com/specai/graphsync/pkg/log"
	"github.com/specai/graphsync/pkg/metrics"
	"github.com/specai/graphsync/pkg/prune"
	"github.com/specai/graphsync/pkg/protocol"
	"github.com/specai/graphsync/pkg/store"
	"github.com/specai/graphsync/pkg/transport"
)

// Node is one running graphsync instance: its durable state plus the
// collaborators that replicate it.
type Node struct {
	InstanceID string
	cfg        config.Config

	store      *store.Store
	engine     *engine.Engine
	broker     *events.Broker
	pruner     *prune.Pruner
	server     *transport.Server
	grpcServer *transport.GRPCServer
	client     *transport.HTTPClient
	collector  *metrics.Collector
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]bool
}

// New opens the store, wires the engine/broker/pruner, and registers the
// configured sessions. It does not start any background loop or
// listener — call Start for that.
func New(cfg config.Config) (*Node, error) {
	instanceID, err := identity.Ensure(cfg.DataDir, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("resolving instance id: %w", err)
	}

	st, err := store.Open(cfg.DataDir, instanceID)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	broker := events.NewBroker()

	eng := engine.New(st, engine.Config{
		FullSyncChangeRatio: cfg.FullSyncChangeRatio,
		StrategyWindow:      cfg.StrategyWindow,
		IncrementalHorizon:  cfg.IncrementalHorizon,
	}, nil)

	pruner := prune.New(st, broker, cfg.PruneRetentionDays, cfg.PruneInterval)

	sessions := make(map[string]bool, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		sessions[s] = true
	}

	n := &Node{
		InstanceID: instanceID,
		cfg:        cfg,
		store:      st,
		engine:     eng,
		broker:     broker,
		pruner:     pruner,
		client:     transport.NewHTTPClient(instanceID),
		logger:     log.WithInstance(instanceID),
		sessions:   sessions,
	}
	n.server = transport.NewServer(eng)
	n.grpcServer = transport.NewGRPCServer()
	n.collector = metrics.NewCollector(n.Stats)

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("transport", false, "not yet listening")
	return n, nil
}

// Start begins the event broker and the pruning loop, and serves the
// transport listener in the background. It returns once the listener is
// accepting connections or immediately on bind failure.
func (n *Node) Start() error {
	n.broker.Start()
	n.pruner.Start()
	n.collector.Start()

	errCh := make(chan error, 2)
	go func() {
		if err := n.server.Start(n.cfg.ListenAddr); err != nil {
			errCh <- fmt.Errorf("starting transport listener on %s: %w", n.cfg.ListenAddr, err)
		}
	}()
	go func() {
		if err := n.grpcServer.Start(n.cfg.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("starting grpc health listener on %s: %w", n.cfg.GRPCAddr, err)
		}
	}()

	select {
	case err := <-errCh:
		metrics.RegisterComponent("transport", false, err.Error())
		return err
	case <-time.After(100 * time.Millisecond):
		metrics.RegisterComponent("transport", true, "")
		n.logger.Info().Str("addr", n.cfg.ListenAddr).Str("grpc_addr", n.cfg.GRPCAddr).Msg("graphsync node started")
		return nil
	}
}

// Stop stops the pruner, the event broker, and the gRPC health listener.
// The HTTP transport listener has no graceful drain in this
// implementation; process exit closes it.
func (n *Node) Stop() {
	metrics.RegisterComponent("transport", false, "shutting down")
	n.collector.Stop()
	n.pruner.Stop()
	n.broker.Stop()
	n.grpcServer.Stop()
}

// Store exposes the underlying Store for CLI subcommands that need
// direct read access (graph list, node inspect).
func (n *Node) Store() *store.Store { return n.store }

// Engine exposes the underlying Engine for CLI subcommands (sync peer).
func (n *Node) Engine() *engine.Engine { return n.engine }

// Sessions returns the sessions this node is configured to replicate.
func (n *Node) Sessions() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.sessions))
	for s := range n.sessions {
		out = append(out, s)
	}
	return out
}

// Stats satisfies the func() ([]graph.Stats, error) shape pkg/metrics's
// Collector expects, sampling every registered session.
func (n *Node) Stats() ([]graph.Stats, error) {
	sessions := n.Sessions()
	out := make([]graph.Stats, 0, len(sessions))
	for _, s := range sessions {
		stats, err := n.store.Stats(s)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// SyncWithPeer runs one bidirectional gossip round against peerID at
// peerAddr for (session, graphName): pull whatever peer has that we lack,
// apply it, then push whatever we have that peer lacks.
func (n *Node) SyncWithPeer(ctx context.Context, peerID, peerAddr, session, graphName string) (engine.Stats, error) {
	logger := n.logger.With().Str("peer", peerID).Str("session_id", session).Str("graph_name", graphName).Logger()

	n.broker.Publish(&events.Event{
		Type:    events.EventSyncStarted,
		Message: "sync round started",
		Metadata: map[string]string{"peer": peerID, "session_id": session, "graph_name": graphName},
	})

	result, err := n.syncWithPeer(ctx, peerID, peerAddr, session, graphName)
	if err != nil {
		logger.Error().Err(err).Msg("sync round failed")
		n.broker.Publish(&events.Event{
			Type:    events.EventSyncFailed,
			Message: err.Error(),
			Metadata: map[string]string{"peer": peerID, "session_id": session},
		})
		return engine.Stats{}, err
	}

	logger.Info().
		Str("strategy", result.Strategy.String()).
		Int("nodes_applied", result.NodesApplied).
		Int("edges_applied", result.EdgesApplied).
		Int("conflicts_detected", result.ConflictsDetected).
		Msg("sync round completed")

	n.broker.Publish(&events.Event{
		Type:    events.EventSyncCompleted,
		Message: "sync round completed",
		Metadata: map[string]string{"peer": peerID, "session_id": session, "strategy": result.Strategy.String()},
	})
	return result, nil
}

func (n *Node) syncWithPeer(ctx context.Context, peerID, peerAddr, session, graphName string) (engine.Stats, error) {
	timer := metrics.NewTimer()

	ourClock, err := n.engine.CurrentClock(session)
	if err != nil {
		return engine.Stats{}, fmt.Errorf("reading local clock: %w", err)
	}

	req := protocol.NewIncrementalRequest(session, graphName, ourClock)
	theirPayload, err := n.client.RequestSync(ctx, peerAddr, req)
	if err != nil {
		return engine.Stats{}, fmt.Errorf("requesting sync from %s: %w", peerID, err)
	}

	ack, err := n.engine.ApplySync(peerID, theirPayload)
	if err != nil {
		return engine.Stats{}, fmt.Errorf("applying payload from %s: %w", peerID, err)
	}

	ourPayload, strategy, err := n.engine.RunSync(peerID, session, graphName, theirPayload.VectorClock)
	if err != nil {
		return engine.Stats{}, fmt.Errorf("building response for %s: %w", peerID, err)
	}

	peerAck, err := n.client.Apply(ctx, peerAddr, ourPayload)
	if err != nil {
		return engine.Stats{}, fmt.Errorf("pushing payload to %s: %w", peerID, err)
	}

	metrics.SyncRoundsTotal.WithLabelValues(peerID, strategy.String()).Inc()
	timer.ObserveDurationVec(metrics.SyncDuration, strategy.String())
	metrics.SyncEntitiesSent.WithLabelValues("node").Add(float64(len(ourPayload.Nodes)))
	metrics.SyncEntitiesSent.WithLabelValues("edge").Add(float64(len(ourPayload.Edges)))
	metrics.SyncEntitiesSent.WithLabelValues("tombstone").Add(float64(len(ourPayload.Tombstones)))
	metrics.SyncEntitiesApplied.WithLabelValues("node").Add(float64(ack.NodesApplied))
	metrics.SyncEntitiesApplied.WithLabelValues("edge").Add(float64(ack.EdgesApplied))
	metrics.SyncEntitiesApplied.WithLabelValues("tombstone").Add(float64(ack.TombstonesApplied))
	metrics.ConflictsDetectedTotal.Add(float64(ack.ConflictsDetected + peerAck.ConflictsDetected))

	return engine.Stats{
		Peer:              peerID,
		Session:           session,
		GraphName:         graphName,
		Strategy:          strategy,
		NodesSent:         len(ourPayload.Nodes),
		EdgesSent:         len(ourPayload.Edges),
		TombstonesSent:    len(ourPayload.Tombstones),
		NodesApplied:      ack.NodesApplied,
		EdgesApplied:      ack.EdgesApplied,
		TombstonesApplied: ack.TombstonesApplied,
		ConflictsDetected: ack.ConflictsDetected + peerAck.ConflictsDetected,
	}, nil
}

package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

// SyncStateGet returns the last clock we believe peer `instance` has
// observed for (session, graphName), and whether a row was present.
func (s *Store) SyncStateGet(instance, session, graphName string) (clock.Clock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vc clock.Clock
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(syncStateBucket)).Get(syncStateKey(instance, session, graphName))
		if raw == nil {
			return nil
		}
		found = true
		vc = clock.FromJSON(raw)
		return nil
	})
	if err != nil {
		return nil, false, &StorageError{Op: "SyncStateGet", Err: err}
	}
	if !found {
		return clock.New(), false, nil
	}
	return vc, true, nil
}

// SyncStateUpdate atomically replaces the persisted clock for
// (instance, session, graphName) with an explicit delete-then-insert
// inside one transaction.
func (s *Store) SyncStateUpdate(instance, session, graphName string, vc clock.Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(syncStateBucket))
		key := syncStateKey(instance, session, graphName)
		if err := b.Delete(key); err != nil {
			return err
		}
		data, err := vc.ToJSON()
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return &StorageError{Op: "SyncStateUpdate", Err: err}
	}
	return nil
}

// graphSyncEnabledTx is the transaction-scoped read used internally by
// InsertNode/InsertEdge to decide whether to emit a changelog row.
func (s *Store) graphSyncEnabledTx(tx *bolt.Tx, session, graphName string) (bool, error) {
	raw := tx.Bucket([]byte(metadataBucket)).Get(graphMetaKey(session, graphName))
	if raw == nil {
		return false, nil
	}
	var enabled bool
	unmarshalLenient(s.logger, raw, &enabled)
	return enabled, nil
}

// GraphSetSyncEnabled registers (or updates) whether a graph within a
// session emits changelog rows and is offered to peers.
func (s *Store) GraphSetSyncEnabled(session, graphName string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalLenient(enabled)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(metadataBucket)).Put(graphMetaKey(session, graphName), data)
	})
	if err != nil {
		return &StorageError{Op: "GraphSetSyncEnabled", Err: err}
	}
	return nil
}

// GraphGetSyncEnabled defaults to false when no metadata row exists.
func (s *Store) GraphGetSyncEnabled(session, graphName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var enabled bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(metadataBucket)).Get(graphMetaKey(session, graphName))
		if raw == nil {
			return nil
		}
		unmarshalLenient(s.logger, raw, &enabled)
		return nil
	})
	if err != nil {
		return false, &StorageError{Op: "GraphGetSyncEnabled", Err: err}
	}
	return enabled, nil
}

// GraphList returns the union of explicitly registered graphs for
// session and the implicit "default" graph when nodes exist for it.
func (s *Store) GraphList(session string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(session + "\x00")
		c := tx.Bucket([]byte(metadataBucket)).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if graphName := string(k[len(prefix):]); graphName != "" {
				seen[graphName] = true
			}
		}

		hasDefault := false
		err := tx.Bucket([]byte(nodesBucket)).ForEach(func(_, v []byte) error {
			var n graph.SyncedNode
			unmarshalLenient(s.logger, v, &n)
			if n.SessionID == session {
				hasDefault = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if hasDefault {
			seen["default"] = true
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "GraphList", Err: err}
	}

	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Stats aggregates node/edge/tombstone counts and registered graphs for
// session; the metrics collector samples it through sync.Node.Stats.
func (s *Store) Stats(session string) (graph.Stats, error) {
	nodes, err := s.CountNodes(session)
	if err != nil {
		return graph.Stats{}, err
	}
	edges, err := s.CountEdges(session)
	if err != nil {
		return graph.Stats{}, err
	}
	graphs, err := s.GraphList(session)
	if err != nil {
		return graph.Stats{}, err
	}

	s.mu.Lock()
	tombstones := 0
	changelog := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		tombstones = s.countTombstonesTx(tx, session)
		changelog = s.countChangelogTx(tx, session)
		return nil
	})
	s.mu.Unlock()

	return graph.Stats{
		SessionID:      session,
		NodeCount:      nodes,
		EdgeCount:      edges,
		TombstoneCount: tombstones,
		ChangelogCount: changelog,
		Graphs:         graphs,
	}, nil
}

package store

import (
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

const defaultListLimit = 100

// InsertNode creates a node, stamps a fresh clock incremented once for
// this instance, and — when the entity's graph is sync_enabled — emits
// exactly one "create" changelog row.
func (s *Store) InsertNode(session string, nodeType graph.NodeType, label string, properties json.RawMessage, embeddingID *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(nodesBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)

		enabled, err := s.graphSyncEnabledTx(tx, session, "default")
		if err != nil {
			return err
		}

		now := time.Now()
		vc := clock.New().Increment(s.instanceID)

		n := graph.SyncedNode{
			Node: graph.Node{
				ID:          id,
				SessionID:   session,
				NodeType:    nodeType,
				Label:       label,
				Properties:  properties,
				EmbeddingID: embeddingID,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			SyncMeta: graph.SyncMeta{
				VectorClock:    vc,
				LastModifiedBy: s.instanceID,
				SyncEnabled:    enabled,
			},
		}

		data, err := marshalLenient(n)
		if err != nil {
			return err
		}
		if err := b.Put(itob(id), data); err != nil {
			return err
		}

		if enabled {
			return s.appendChangelogTx(tx, session, graph.EntityTypeNode, id, graph.OperationCreate, vc, data)
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "InsertNode", Err: err}
	}
	return id, nil
}

func (s *Store) readNodeTx(tx *bolt.Tx, id int64) (*graph.SyncedNode, bool) {
	b := tx.Bucket([]byte(nodesBucket))
	raw := b.Get(itob(id))
	if raw == nil {
		return nil, false
	}
	var n graph.SyncedNode
	unmarshalLenient(s.logger, raw, &n)
	if n.VectorClock == nil {
		n.VectorClock = clock.New()
	}
	return &n, true
}

// GetNode returns the node, excluding its sync metadata, or nil if
// absent or soft-deleted (deleted rows are only visible through
// GetNodeWithSync / the include_deleted list path).
func (s *Store) GetNode(id int64) (*graph.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *graph.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		n, ok := s.readNodeTx(tx, id)
		if !ok || n.IsDeleted {
			return nil
		}
		node := n.Node
		out = &node
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "GetNode", Err: err}
	}
	return out, nil
}

// GetNodeWithSync returns the node plus its full sync metadata
// regardless of deletion state.
func (s *Store) GetNodeWithSync(id int64) (*graph.SyncedNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *graph.SyncedNode
	err := s.db.View(func(tx *bolt.Tx) error {
		n, ok := s.readNodeTx(tx, id)
		if !ok {
			return nil
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "GetNodeWithSync", Err: err}
	}
	return out, nil
}

// ListNodes returns live nodes for session ordered by descending id,
// optionally filtered by type, defaulting to a limit of 100.
func (s *Store) ListNodes(session string, nodeType *graph.NodeType, limit int) ([]graph.Node, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(nodesBucket))
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var n graph.SyncedNode
			unmarshalLenient(s.logger, v, &n)
			if n.SessionID != session || n.IsDeleted {
				continue
			}
			if nodeType != nil && n.NodeType != *nodeType {
				continue
			}
			out = append(out, n.Node)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "ListNodes", Err: err}
	}
	return out, nil
}

// ListNodesWithSync returns nodes with sync metadata ordered by
// created_at ascending (replay-friendly), per the engine's need to
// stream live state in insertion order during a full sync.
func (s *Store) ListNodesWithSync(session string, syncEnabledOnly, includeDeleted bool) ([]graph.SyncedNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.SyncedNode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(nodesBucket))
		return b.ForEach(func(_, v []byte) error {
			var n graph.SyncedNode
			unmarshalLenient(s.logger, v, &n)
			if n.SessionID != session {
				return nil
			}
			if syncEnabledOnly && !n.SyncEnabled {
				return nil
			}
			if n.IsDeleted && !includeDeleted {
				return nil
			}
			out = append(out, n)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "ListNodesWithSync", Err: err}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountNodes counts live nodes for session.
func (s *Store) CountNodes(session string) (int, error) {
	nodes, err := s.ListNodesWithSync(session, false, false)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// UpdateNode increments the entity's clock, bumps updated_at, replaces
// properties, and emits an "update" changelog row when sync_enabled.
func (s *Store) UpdateNode(id int64, properties json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		n, ok := s.readNodeTx(tx, id)
		if !ok {
			return errNotFound
		}

		n.VectorClock = n.VectorClock.Increment(s.instanceID)
		n.LastModifiedBy = s.instanceID
		n.Properties = properties
		n.UpdatedAt = time.Now()

		data, err := marshalLenient(n)
		if err != nil {
			return err
		}
		b := tx.Bucket([]byte(nodesBucket))
		if err := b.Put(itob(id), data); err != nil {
			return err
		}

		if n.SyncEnabled {
			return s.appendChangelogTx(tx, n.SessionID, graph.EntityTypeNode, id, graph.OperationUpdate, n.VectorClock, data)
		}
		return nil
	})
	if err != nil {
		return wrapOrNotFound("UpdateNode", err)
	}
	return nil
}

// DeleteNode soft-deletes: the live row is retained with is_deleted=true
// so list endpoints can exclude it by default while get_node_with_sync
// and include_deleted listings still surface the tombstoned row. A
// graph_tombstones entry is appended alongside the changelog row.
// Edges are not cascaded; callers needing referential cleanup delete
// them explicitly.
func (s *Store) DeleteNode(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		n, ok := s.readNodeTx(tx, id)
		if !ok {
			return errNotFound
		}

		if n.SyncEnabled {
			n.VectorClock = n.VectorClock.Increment(s.instanceID)
			data, err := marshalLenient(n)
			if err != nil {
				return err
			}
			if err := s.appendChangelogTx(tx, n.SessionID, graph.EntityTypeNode, id, graph.OperationDelete, n.VectorClock, data); err != nil {
				return err
			}
			if err := s.appendTombstoneTx(tx, graph.EntityTypeNode, id, n.VectorClock, s.instanceID); err != nil {
				return err
			}
		}

		n.IsDeleted = true
		n.LastModifiedBy = s.instanceID
		n.UpdatedAt = time.Now()
		data, err := marshalLenient(n)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(nodesBucket)).Put(itob(id), data)
	})
	if err != nil {
		return wrapOrNotFound("DeleteNode", err)
	}
	return nil
}

// UpdateNodeSyncMetadata overwrites sync metadata verbatim without
// re-incrementing the clock, used by the Engine when applying remote
// state that already carries its own causally-correct clock.
func (s *Store) UpdateNodeSyncMetadata(id int64, vc clock.Clock, lastModifiedBy string, syncEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		n, ok := s.readNodeTx(tx, id)
		if !ok {
			return errNotFound
		}
		n.VectorClock = vc
		n.LastModifiedBy = lastModifiedBy
		n.SyncEnabled = syncEnabled
		data, err := marshalLenient(n)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(nodesBucket)).Put(itob(id), data)
	})
	if err != nil {
		return wrapOrNotFound("UpdateNodeSyncMetadata", err)
	}
	return nil
}

// MarkNodeDeleted sets is_deleted without touching the changelog; the
// Engine calls this when applying an incoming tombstone.
func (s *Store) MarkNodeDeleted(id int64, vc clock.Clock, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		n, ok := s.readNodeTx(tx, id)
		if !ok {
			return errNotFound
		}
		n.IsDeleted = true
		n.VectorClock = vc
		n.LastModifiedBy = deletedBy
		n.UpdatedAt = time.Now()
		data, err := marshalLenient(n)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(nodesBucket)).Put(itob(id), data)
	})
	if err != nil {
		return wrapOrNotFound("MarkNodeDeleted", err)
	}
	return nil
}

// PutSyncedNode inserts a node verbatim at the id and clock carried by a
// synced payload entry — used by the Engine's apply_sync both when the
// incoming id is not yet present locally and when the incoming version
// replaces the local one. The caller is responsible for
// the compare/After decision; this is a raw write.
func (s *Store) PutSyncedNode(n graph.SyncedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalLenient(n)
		if err != nil {
			return err
		}
		b := tx.Bucket([]byte(nodesBucket))
		if err := b.Put(itob(n.ID), data); err != nil {
			return err
		}
		seq := b.Sequence()
		if uint64(n.ID) > seq {
			return b.SetSequence(uint64(n.ID))
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "PutSyncedNode", Err: err}
	}
	return nil
}

package store

import (
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

// InsertEdge mirrors InsertNode. Both endpoints must exist in session or
// the insert fails with a ReferentialError and no partial state is
// visible.
func (s *Store) InsertEdge(session string, sourceID, targetID int64, edgeType graph.EdgeType, predicate *string, properties json.RawMessage, weight float32, temporalStart, temporalEnd *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, ok := s.readNodeTx(tx, sourceID); !ok {
			return &ReferentialError{SourceID: sourceID, TargetID: targetID}
		}
		if _, ok := s.readNodeTx(tx, targetID); !ok {
			return &ReferentialError{SourceID: sourceID, TargetID: targetID}
		}

		b := tx.Bucket([]byte(edgesBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)

		enabled, err := s.graphSyncEnabledTx(tx, session, "default")
		if err != nil {
			return err
		}

		vc := clock.New().Increment(s.instanceID)
		e := graph.SyncedEdge{
			Edge: graph.Edge{
				ID:            id,
				SessionID:     session,
				SourceID:      sourceID,
				TargetID:      targetID,
				EdgeType:      edgeType,
				Predicate:     predicate,
				Properties:    properties,
				Weight:        weight,
				TemporalStart: temporalStart,
				TemporalEnd:   temporalEnd,
			},
			SyncMeta: graph.SyncMeta{
				VectorClock:    vc,
				LastModifiedBy: s.instanceID,
				SyncEnabled:    enabled,
			},
		}

		data, err := marshalLenient(e)
		if err != nil {
			return err
		}
		if err := b.Put(itob(id), data); err != nil {
			return err
		}
		if enabled {
			return s.appendChangelogTx(tx, session, graph.EntityTypeEdge, id, graph.OperationCreate, vc, data)
		}
		return nil
	})
	if err != nil {
		if re, ok := err.(*ReferentialError); ok {
			return 0, re
		}
		return 0, &StorageError{Op: "InsertEdge", Err: err}
	}
	return id, nil
}

func (s *Store) readEdgeTx(tx *bolt.Tx, id int64) (*graph.SyncedEdge, bool) {
	b := tx.Bucket([]byte(edgesBucket))
	raw := b.Get(itob(id))
	if raw == nil {
		return nil, false
	}
	var e graph.SyncedEdge
	unmarshalLenient(s.logger, raw, &e)
	if e.VectorClock == nil {
		e.VectorClock = clock.New()
	}
	return &e, true
}

// GetEdge returns the edge without sync metadata, nil if absent or
// soft-deleted.
func (s *Store) GetEdge(id int64) (*graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *graph.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		e, ok := s.readEdgeTx(tx, id)
		if !ok || e.IsDeleted {
			return nil
		}
		edge := e.Edge
		out = &edge
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "GetEdge", Err: err}
	}
	return out, nil
}

// GetEdgeWithSync returns the edge plus sync metadata regardless of
// deletion state.
func (s *Store) GetEdgeWithSync(id int64) (*graph.SyncedEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *graph.SyncedEdge
	err := s.db.View(func(tx *bolt.Tx) error {
		e, ok := s.readEdgeTx(tx, id)
		if !ok {
			return nil
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "GetEdgeWithSync", Err: err}
	}
	return out, nil
}

// ListEdges returns live edges for session, optionally filtered by
// source and/or target id.
func (s *Store) ListEdges(session string, sourceID, targetID *int64, limit int) ([]graph.Edge, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(edgesBucket))
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e graph.SyncedEdge
			unmarshalLenient(s.logger, v, &e)
			if e.SessionID != session || e.IsDeleted {
				continue
			}
			if sourceID != nil && e.SourceID != *sourceID {
				continue
			}
			if targetID != nil && e.TargetID != *targetID {
				continue
			}
			out = append(out, e.Edge)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "ListEdges", Err: err}
	}
	return out, nil
}

// ListEdgesWithSync mirrors ListNodesWithSync's filters; edges are
// returned in ascending id order.
func (s *Store) ListEdgesWithSync(session string, syncEnabledOnly, includeDeleted bool) ([]graph.SyncedEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.SyncedEdge
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(edgesBucket))
		return b.ForEach(func(_, v []byte) error {
			var e graph.SyncedEdge
			unmarshalLenient(s.logger, v, &e)
			if e.SessionID != session {
				return nil
			}
			if syncEnabledOnly && !e.SyncEnabled {
				return nil
			}
			if e.IsDeleted && !includeDeleted {
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "ListEdgesWithSync", Err: err}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountEdges counts live edges for session.
func (s *Store) CountEdges(session string) (int, error) {
	edges, err := s.ListEdgesWithSync(session, false, false)
	if err != nil {
		return 0, err
	}
	return len(edges), nil
}

// UpdateEdge mirrors UpdateNode.
func (s *Store) UpdateEdge(id int64, properties json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		e, ok := s.readEdgeTx(tx, id)
		if !ok {
			return errNotFound
		}
		e.VectorClock = e.VectorClock.Increment(s.instanceID)
		e.LastModifiedBy = s.instanceID
		e.Properties = properties

		data, err := marshalLenient(e)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(edgesBucket)).Put(itob(id), data); err != nil {
			return err
		}
		if e.SyncEnabled {
			return s.appendChangelogTx(tx, e.SessionID, graph.EntityTypeEdge, id, graph.OperationUpdate, e.VectorClock, data)
		}
		return nil
	})
	if err != nil {
		return wrapOrNotFound("UpdateEdge", err)
	}
	return nil
}

// DeleteEdge mirrors DeleteNode's soft-delete-plus-tombstone discipline.
func (s *Store) DeleteEdge(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		e, ok := s.readEdgeTx(tx, id)
		if !ok {
			return errNotFound
		}

		if e.SyncEnabled {
			e.VectorClock = e.VectorClock.Increment(s.instanceID)
			data, err := marshalLenient(e)
			if err != nil {
				return err
			}
			if err := s.appendChangelogTx(tx, e.SessionID, graph.EntityTypeEdge, id, graph.OperationDelete, e.VectorClock, data); err != nil {
				return err
			}
			if err := s.appendTombstoneTx(tx, graph.EntityTypeEdge, id, e.VectorClock, s.instanceID); err != nil {
				return err
			}
		}

		e.IsDeleted = true
		e.LastModifiedBy = s.instanceID
		data, err := marshalLenient(e)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(edgesBucket)).Put(itob(id), data)
	})
	if err != nil {
		return wrapOrNotFound("DeleteEdge", err)
	}
	return nil
}

// UpdateEdgeSyncMetadata mirrors UpdateNodeSyncMetadata.
func (s *Store) UpdateEdgeSyncMetadata(id int64, vc clock.Clock, lastModifiedBy string, syncEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		e, ok := s.readEdgeTx(tx, id)
		if !ok {
			return errNotFound
		}
		e.VectorClock = vc
		e.LastModifiedBy = lastModifiedBy
		e.SyncEnabled = syncEnabled
		data, err := marshalLenient(e)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(edgesBucket)).Put(itob(id), data)
	})
	if err != nil {
		return wrapOrNotFound("UpdateEdgeSyncMetadata", err)
	}
	return nil
}

// MarkEdgeDeleted mirrors MarkNodeDeleted.
func (s *Store) MarkEdgeDeleted(id int64, vc clock.Clock, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		e, ok := s.readEdgeTx(tx, id)
		if !ok {
			return errNotFound
		}
		e.IsDeleted = true
		e.VectorClock = vc
		e.LastModifiedBy = deletedBy
		data, err := marshalLenient(e)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(edgesBucket)).Put(itob(id), data)
	})
	if err != nil {
		return wrapOrNotFound("MarkEdgeDeleted", err)
	}
	return nil
}

// PutSyncedEdge mirrors PutSyncedNode.
func (s *Store) PutSyncedEdge(e graph.SyncedEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalLenient(e)
		if err != nil {
			return err
		}
		b := tx.Bucket([]byte(edgesBucket))
		if err := b.Put(itob(e.ID), data); err != nil {
			return err
		}
		seq := b.Sequence()
		if uint64(e.ID) > seq {
			return b.SetSequence(uint64(e.ID))
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "PutSyncedEdge", Err: err}
	}
	return nil
}

package store

import (
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

// appendChangelogTx unconditionally appends one audit row inside the
// caller's transaction. It is never called directly from outside a
// mutation method, which keeps every sync-enabled mutation to exactly
// one changelog row.
func (s *Store) appendChangelogTx(tx *bolt.Tx, session string, entityType graph.EntityType, entityID int64, op graph.Operation, vc clock.Clock, data json.RawMessage) error {
	b := tx.Bucket([]byte(changelogBucket))
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	entry := graph.ChangelogEntry{
		ID:          int64(seq),
		SessionID:   session,
		InstanceID:  s.instanceID,
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		VectorClock: vc,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	payload, err := marshalLenient(entry)
	if err != nil {
		return err
	}
	return b.Put(itob(entry.ID), payload)
}

// ChangelogAppend is the public, unconditional-append entry point used
// directly by operator tooling or tests; regular mutations go through
// appendChangelogTx as a side-effect of InsertNode/UpdateNode/etc.
func (s *Store) ChangelogAppend(session string, entityType graph.EntityType, entityID int64, op graph.Operation, vc clock.Clock, data json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(changelogBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		entry := graph.ChangelogEntry{
			ID:          id,
			SessionID:   session,
			InstanceID:  s.instanceID,
			EntityType:  entityType,
			EntityID:    entityID,
			Operation:   op,
			VectorClock: vc,
			Data:        data,
			CreatedAt:   time.Now(),
		}
		payload, err := marshalLenient(entry)
		if err != nil {
			return err
		}
		return b.Put(itob(id), payload)
	})
	if err != nil {
		return 0, &StorageError{Op: "ChangelogAppend", Err: err}
	}
	return id, nil
}

// ChangelogGetSince returns entries for session created at or after
// since, ordered ascending by created_at.
func (s *Store) ChangelogGetSince(session string, since time.Time) ([]graph.ChangelogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.ChangelogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(changelogBucket))
		return b.ForEach(func(_, v []byte) error {
			var e graph.ChangelogEntry
			unmarshalLenient(s.logger, v, &e)
			if e.SessionID == session && !e.CreatedAt.Before(since) {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "ChangelogGetSince", Err: err}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ChangelogPrune deletes rows strictly older than now - daysToKeep,
// returning the number of rows removed. Safe to run concurrently with
// mutators because append-only writes and age-based deletes commute.
func (s *Store) ChangelogPrune(daysToKeep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(changelogBucket))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e graph.ChangelogEntry
			unmarshalLenient(s.logger, v, &e)
			if e.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "ChangelogPrune", Err: err}
	}
	return removed, nil
}

// OldestChangelogEntry returns the oldest surviving changelog row for
// session, or nil if the changelog is empty (either because nothing has
// been written yet or because ChangelogPrune has reclaimed it). The
// Engine compares its vector_clock against the clock a peer reports in
// its sync request to decide whether an incremental sync can bridge the
// gap at all, per the changelog-horizon-vs-sync-state-age redesign.
func (s *Store) OldestChangelogEntry(session string) (*graph.ChangelogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *graph.ChangelogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(changelogBucket))
		return b.ForEach(func(_, v []byte) error {
			var e graph.ChangelogEntry
			unmarshalLenient(s.logger, v, &e)
			if e.SessionID != session {
				return nil
			}
			if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
				cp := e
				oldest = &cp
			}
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "OldestChangelogEntry", Err: err}
	}
	return oldest, nil
}

// appendTombstoneTx appends a redundant causal record to the tombstone
// bucket, independent of the live row's is_deleted flag, so deletion
// history survives even if the live row bucket is later compacted.
func (s *Store) appendTombstoneTx(tx *bolt.Tx, entityType graph.EntityType, entityID int64, vc clock.Clock, deletedBy string) error {
	b := tx.Bucket([]byte(tombstonesBucket))
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	t := graph.Tombstone{
		EntityType:  entityType,
		EntityID:    entityID,
		VectorClock: vc,
		DeletedBy:   deletedBy,
		DeletedAt:   time.Now(),
	}
	data, err := marshalLenient(t)
	if err != nil {
		return err
	}
	return b.Put(itob(int64(seq)), data)
}

// countTombstonesTx reports how many tombstone rows belong to entities of
// session, used by Stats. Tombstone rows carry no session, so each row's
// entity is looked up to find it.
func (s *Store) countTombstonesTx(tx *bolt.Tx, session string) int {
	n := 0
	_ = tx.Bucket([]byte(tombstonesBucket)).ForEach(func(_, v []byte) error {
		var t graph.Tombstone
		unmarshalLenient(s.logger, v, &t)
		switch t.EntityType {
		case graph.EntityTypeNode:
			if e, ok := s.readNodeTx(tx, t.EntityID); ok && e.SessionID == session {
				n++
			}
		case graph.EntityTypeEdge:
			if e, ok := s.readEdgeTx(tx, t.EntityID); ok && e.SessionID == session {
				n++
			}
		}
		return nil
	})
	return n
}

// countChangelogTx counts rows belonging to session. It unmarshals each
// row, since the changelog bucket isn't keyed or scoped by session.
func (s *Store) countChangelogTx(tx *bolt.Tx, session string) int {
	n := 0
	_ = tx.Bucket([]byte(changelogBucket)).ForEach(func(_, v []byte) error {
		var e graph.ChangelogEntry
		unmarshalLenient(s.logger, v, &e)
		if e.SessionID == session {
			n++
		}
		return nil
	})
	return n
}

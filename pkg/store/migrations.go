package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// migration is one step in the linear numbered sequence. Each step
// receives the open transaction so it can reshape bucket contents; it
// must be safe to run exactly once.
type migration struct {
	version uint32
	apply   func(tx *bolt.Tx) error
}

// migrations is the ordered, append-only list of schema steps. Version
// 1 is the bucket set created by Open itself, so its apply is a no-op;
// future migrations append here rather than mutating earlier entries.
var migrations = []migration{
	{version: 1, apply: func(tx *bolt.Tx) error { return nil }},
}

// migrate applies any migration whose version exceeds the store's
// persisted schema version, then writes a durable checkpoint. Opening
// against a database stamped with a version newer than
// currentSchemaVersion is a fatal MigrationError — this binary is older
// than the data it's pointed at.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metadataBucket))

		persisted := uint32(0)
		if raw := meta.Get(schemaVersionKey); len(raw) == 4 {
			persisted = binary.BigEndian.Uint32(raw)
		}

		if persisted > currentSchemaVersion {
			return &MigrationError{
				Reason: fmt.Sprintf("database schema version %d is newer than this binary's %d", persisted, currentSchemaVersion),
			}
		}

		for _, m := range migrations {
			if m.version <= persisted {
				continue
			}
			if err := m.apply(tx); err != nil {
				return &MigrationError{Reason: fmt.Sprintf("migration %d failed: %v", m.version, err)}
			}
			persisted = m.version
		}

		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, persisted)
		return meta.Put(schemaVersionKey, buf)
	})
}

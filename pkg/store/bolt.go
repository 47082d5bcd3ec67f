package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/specai/graphsync/pkg/log"
)

const (
	nodesBucket      = "graph_nodes"
	edgesBucket      = "graph_edges"
	metadataBucket   = "graph_metadata"
	changelogBucket  = "graph_changelog"
	syncStateBucket  = "graph_sync_state"
	tombstonesBucket = "graph_tombstones"
)

// schemaVersionKey is a reserved key inside metadataBucket that is never
// a valid "session\x00graph" pair: every graph metadata key contains the
// NUL separator written by graphMetaKey, and this key contains none.
var schemaVersionKey = []byte("__schema_version__")

// currentSchemaVersion is bumped by appending a migration to migrations.go.
const currentSchemaVersion = 1

// Store is the transactional CRUD layer over nodes, edges, and their
// sync metadata. All public methods serialize through mu for the
// duration of one logical operation, per the shared-handle-under-mutex
// discipline called out in the design notes; multi-statement sequences
// additionally run inside a single bbolt transaction.
type Store struct {
	db         *bolt.DB
	mu         sync.Mutex
	instanceID string
	logger     zerologLogger
}

// zerologLogger is the minimal logging surface Store needs; kept as an
// interface so tests can swap in a no-op without importing zerolog.
type zerologLogger interface {
	Warn(msg string)
	Error(msg string)
}

type defaultLogger struct{}

func (defaultLogger) Warn(msg string)  { log.Logger.Warn().Msg(msg) }
func (defaultLogger) Error(msg string) { log.Logger.Error().Msg(msg) }

// Open creates or opens the bbolt-backed store at <dataDir>/graphsync.db,
// creates the bucket set if absent, and applies any pending migrations.
func Open(dataDir, instanceID string) (*Store, error) {
	path := filepath.Join(dataDir, "graphsync.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}

	s := &Store{db: db, instanceID: instanceID, logger: defaultLogger{}}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{nodesBucket, edgesBucket, metadataBucket, changelogBucket, syncStateBucket, tombstonesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InstanceID returns the instance id this store increments clocks for.
func (s *Store) InstanceID() string {
	return s.instanceID
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func syncStateKey(instance, session, graphName string) []byte {
	return []byte(instance + "\x00" + session + "\x00" + graphName)
}

func graphMetaKey(session, graphName string) []byte {
	return []byte(session + "\x00" + graphName)
}

// marshalLenient marshals v to JSON and returns any encoding error;
// callers treat an error here as fatal for the operation. The helper
// exists to keep call sites uniform with the unmarshalLenient
// counterpart below.
func marshalLenient(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshalLenient decodes data into v, logging and returning a
// zero-valued decode on malformed JSON instead of propagating an error,
// matching the "corrupted properties JSON on read -> null document"
// failure semantics from the error handling design.
func unmarshalLenient(logger zerologLogger, data []byte, v interface{}) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn("discarding malformed persisted row: " + err.Error())
	}
}

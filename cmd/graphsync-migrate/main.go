package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var (
	dataDir    = flag.String("data-dir", "./data", "graphsync data directory")
	dryRun     = flag.Bool("dry-run", false, "show what would change without making changes")
	backupPath = flag.String("backup", "", "path to back up the database to before compacting (default: <data-dir>/graphsync.db.backup)")
	compact    = flag.Bool("compact", false, "rewrite every bucket into a fresh file, dropping free pages")
)

// buckets mirrors the set pkg/store.Open creates; kept in sync by hand
// since this tool intentionally has no dependency on pkg/store.
var buckets = []string{
	"graph_nodes",
	"graph_edges",
	"graph_metadata",
	"graph_changelog",
	"graph_sync_state",
	"graph_tombstones",
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("graphsync-migrate - bbolt inspection and backup tool")
	log.Println("=====================================================")

	dbPath := filepath.Join(*dataDir, "graphsync.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}

	log.Printf("database: %s", dbPath)
	log.Printf("dry run: %v", *dryRun)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := inspect(db); err != nil {
		log.Fatalf("inspect failed: %v", err)
	}

	if !*compact {
		return
	}

	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}

	if *dryRun {
		log.Printf("\n[dry run] would back up to %s and compact in place", backupFile)
		return
	}

	log.Printf("creating backup: %s", backupFile)
	if err := copyFile(dbPath, backupFile); err != nil {
		log.Fatalf("failed to create backup: %v", err)
	}
	log.Println("backup created")

	if err := compactInPlace(db, dbPath); err != nil {
		log.Fatalf("compact failed: %v", err)
	}
	log.Println("compaction completed successfully")
}

// inspect prints per-bucket key counts, letting an operator spot a
// changelog bucket that has grown unbounded because the pruner isn't
// running, without needing to stand up the daemon.
func inspect(db *bolt.DB) error {
	return db.View(func(tx *bolt.Tx) error {
		log.Println("\nbucket counts:")
		for _, name := range buckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				log.Printf("  %-20s (missing)", name)
				continue
			}
			count := 0
			if err := b.ForEach(func(k, v []byte) error {
				count++
				return nil
			}); err != nil {
				return fmt.Errorf("counting %s: %w", name, err)
			}
			log.Printf("  %-20s %d", name, count)
		}

		sessions, err := sessionsInChangelog(tx)
		if err != nil {
			return err
		}
		if len(sessions) > 0 {
			log.Println("\nsessions seen in graph_changelog:")
			for _, s := range sessions {
				log.Printf("  %s", s)
			}
		}
		return nil
	})
}

// sessionsInChangelog scans the changelog's JSON values for a "session_id"
// field rather than parsing keys, since changelog keys are sequence
// numbers and carry no session information themselves.
func sessionsInChangelog(tx *bolt.Tx) ([]string, error) {
	b := tx.Bucket([]byte("graph_changelog"))
	if b == nil {
		return nil, nil
	}

	seen := map[string]bool{}
	err := b.ForEach(func(k, v []byte) error {
		session, ok := extractJSONStringField(v, "session_id")
		if ok {
			seen[session] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// compactInPlace rewrites every bucket into a fresh file via bolt's own
// Compact helper semantics, then swaps it over the original path. bbolt
// has no in-process vacuum; this is the documented workaround of writing
// to a sibling file and renaming.
func compactInPlace(db *bolt.DB, dbPath string) error {
	tmpPath := dbPath + ".compact"
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("opening compaction target: %w", err)
	}

	err = db.View(func(tx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return dstBucket.Put(append([]byte{}, k...), append([]byte{}, v...))
				})
			})
		})
	})
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("closing source before swap: %w", err)
	}
	return os.Rename(tmpPath, dbPath)
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}

// extractJSONStringField does a cheap scan for `"key":"value"` without
// pulling in a full JSON decode of every changelog row, which at scale
// would dominate inspect's runtime.
func extractJSONStringField(data []byte, key string) (string, bool) {
	needle := []byte(`"` + key + `":"`)
	idx := bytes.Index(data, needle)
	if idx < 0 {
		return "", false
	}
	start := idx + len(needle)
	end := bytes.IndexByte(data[start:], '"')
	if end < 0 {
		return "", false
	}
	return string(data[start : start+end]), true
}

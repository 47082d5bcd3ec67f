// Package identity stamps this process with a durable instance id, the
// label every vector clock, changelog row, and sync_state entry in
// this repository keys off of.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const idFileName = "instance_id"

// Ensure returns the instance id for dataDir, generating and persisting
// one on first use so restarts keep the same identity. An explicit
// override (e.g. from config or a CLI flag) takes precedence and is
// persisted too, so subsequent restarts without the override still
// agree.
func Ensure(dataDir, override string) (string, error) {
	if override != "" {
		return override, persist(dataDir, override)
	}

	path := filepath.Join(dataDir, idFileName)
	existing, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(existing)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading instance id: %w", err)
	}

	id := generate()
	return id, persist(dataDir, id)
}

// generate builds a new instance id from the local hostname and a
// random UUID, so operator-facing logs stay traceable to a host while
// still being globally unique.
func generate() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String())
}

func persist(dataDir, id string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, idFileName)
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("persisting instance id: %w", err)
	}
	return nil
}

package store

import (
	"errors"
	"fmt"
)

// errNotFound is the internal sentinel used inside transaction closures
// to signal "row absent" up to the call site, which maps it to
// NotFoundError for update_*/delete_* (get_* instead returns a nil
// pointer and no error, per the error handling design).
var errNotFound = errors.New("entity not found")

// NotFoundError surfaces a missing entity from update_* and delete_*,
// which — unlike get_* — must report absence as an error rather than a
// silent nil.
type NotFoundError struct {
	Op string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: entity not found", e.Op)
}

// wrapOrNotFound maps the errNotFound sentinel to a NotFoundError, passes
// a ReferentialError through unchanged, and wraps anything else in a
// StorageError, so callers never see the raw bbolt transaction error.
func wrapOrNotFound(op string, err error) error {
	if errors.Is(err, errNotFound) {
		return &NotFoundError{Op: op}
	}
	if re, ok := err.(*ReferentialError); ok {
		return re
	}
	return &StorageError{Op: op, Err: err}
}

// StorageError wraps an underlying database failure. The current
// transaction is always aborted before this is returned; no partial
// writes are visible to subsequent readers.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReferentialError is returned when inserting an edge whose endpoints do
// not exist.
type ReferentialError struct {
	SourceID int64
	TargetID int64
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("edge endpoints %d -> %d do not both exist", e.SourceID, e.TargetID)
}

// MigrationError is fatal: the store refuses to open.
type MigrationError struct {
	Reason string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration error: %s", e.Reason)
}

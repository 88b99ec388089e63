// Package store persists region state per session.
//
// Every record carries a version that increases by one on each committed write.
// Writers read a record, compute the next state and commit it with
// CompareAndSwap against the version they read; a concurrent writer that got there
// first makes the commit fail with ErrConflict instead of being silently overwritten.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned for unknown session/region pairs.
	ErrNotFound = errors.New("region not found")
	// ErrConflict is returned when the stored version moved since it was read.
	ErrConflict = errors.New("region version conflict")
	// ErrExists is returned when inserting a region id that is already stored.
	ErrExists = errors.New("region already exists")
)

// Record is the stored state of one region.
type Record struct {
	SessionID    string
	RegionID     string
	TemplatePath string
	Source       string
	Hash         string
	State        []byte // JSON encoded template state
	Version      int64
}

// Store is the session persistence backend.
type Store interface {
	Get(ctx context.Context, sessionID, regionID string) (Record, error)
	List(ctx context.Context, sessionID string) ([]Record, error)
	// Insert stores a new record at version 1.
	Insert(ctx context.Context, rec Record) (Record, error)
	// CompareAndSwap replaces the record if its stored version equals expect.
	// The returned record carries the new version.
	CompareAndSwap(ctx context.Context, rec Record, expect int64) (Record, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a simple in-memory store
type MemoryStore struct {
	sessions map[string]map[string]Record
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]Record),
	}
}

// Get retrieves a region record
func (s *MemoryStore) Get(_ context.Context, sessionID, regionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID][regionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns the session's records ordered by region id
func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regions := s.sessions[sessionID]
	result := make([]Record, 0, len(regions))
	for _, rec := range regions {
		result = append(result, cloneRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RegionID < result[j].RegionID })
	return result, nil
}

// Insert stores a new record
func (s *MemoryStore) Insert(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, ok := s.sessions[rec.SessionID]
	if !ok {
		regions = make(map[string]Record)
		s.sessions[rec.SessionID] = regions
	}
	if _, exists := regions[rec.RegionID]; exists {
		return Record{}, ErrExists
	}

	rec = cloneRecord(rec)
	rec.Version = 1
	regions[rec.RegionID] = rec
	return cloneRecord(rec), nil
}

// CompareAndSwap replaces a record if nobody committed since version expect
func (s *MemoryStore) CompareAndSwap(_ context.Context, rec Record, expect int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[rec.SessionID][rec.RegionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	if current.Version != expect {
		return Record{}, ErrConflict
	}

	rec = cloneRecord(rec)
	rec.Version = expect + 1
	s.sessions[rec.SessionID][rec.RegionID] = rec
	return cloneRecord(rec), nil
}

// DeleteSession removes all records of a session
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// cloneRecord copies the state bytes so callers never share them with the store
func cloneRecord(rec Record) Record {
	if rec.State != nil {
		state := make([]byte, len(rec.State))
		copy(state, rec.State)
		rec.State = state
	}
	return rec
}

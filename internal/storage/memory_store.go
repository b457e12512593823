package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tripfeed-io/tripfeed/internal/trips"
)

// InMemoryStateStore provides thread-safe in-memory ingestion state,
// mirroring the PostgreSQL semantics for unit tests.
type InMemoryStateStore struct {
	mutex sync.RWMutex
	rows  map[string]*memoryStateRow
}

type memoryStateRow struct {
	watermark *time.Time
	lastRunAt *time.Time
	status    string
	notes     string
}

// Compile-time interface assertions.
var (
	_ trips.StateStore   = (*InMemoryStateStore)(nil)
	_ trips.StagingStore = (*InMemoryStagingStore)(nil)
)

// NewInMemoryStateStore creates an empty in-memory state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{
		rows: make(map[string]*memoryStateRow),
	}
}

// Ensure implements trips.StateStore.
func (s *InMemoryStateStore) Ensure(_ context.Context, dataset string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.rows[dataset]; !exists {
		s.rows[dataset] = &memoryStateRow{}
	}

	return nil
}

// Watermark implements trips.StateStore.
func (s *InMemoryStateStore) Watermark(_ context.Context, dataset string) (*time.Time, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, exists := s.rows[dataset]
	if !exists || row.watermark == nil {
		return nil, nil
	}

	// Return a copy to prevent external modification
	ts := *row.watermark

	return &ts, nil
}

// Advance implements trips.StateStore.
func (s *InMemoryStateStore) Advance(_ context.Context, dataset string, watermark time.Time, note string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	row, exists := s.rows[dataset]
	if !exists {
		return ErrStateNotFound
	}

	now := time.Now().UTC()
	row.watermark = &watermark
	row.lastRunAt = &now
	row.status = "ok"
	row.notes = note

	return nil
}

// LastRunStatus returns the recorded status for a dataset, for test assertions.
func (s *InMemoryStateStore) LastRunStatus(dataset string) string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if row, exists := s.rows[dataset]; exists {
		return row.status
	}

	return ""
}

// InMemoryStagingStore provides thread-safe in-memory staging rows keyed by
// trip identifier, with the same overwrite-on-conflict semantics as the
// PostgreSQL staging store.
type InMemoryStagingStore struct {
	mutex sync.RWMutex
	rows  map[string]trips.TripRow
}

// NewInMemoryStagingStore creates an empty in-memory staging store.
func NewInMemoryStagingStore() *InMemoryStagingStore {
	return &InMemoryStagingStore{
		rows: make(map[string]trips.TripRow),
	}
}

// UpsertBatch implements trips.StagingStore.
// Rows with a nil identifier are skipped, never merged under a shared key.
func (s *InMemoryStagingStore) UpsertBatch(_ context.Context, rows []*trips.TripRow) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	written := 0

	for _, row := range rows {
		if row == nil || row.TripID == nil {
			continue
		}

		// Store a copy to prevent external modification
		s.rows[*row.TripID] = *row
		written++
	}

	return written, nil
}

// Get returns the staged row for an identifier, for test assertions.
func (s *InMemoryStagingStore) Get(tripID string) (trips.TripRow, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, exists := s.rows[tripID]

	return row, exists
}

// Len returns the number of staged rows.
func (s *InMemoryStagingStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.rows)
}

// Snapshot returns a copy of all staged rows keyed by identifier.
func (s *InMemoryStagingStore) Snapshot() map[string]trips.TripRow {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make(map[string]trips.TripRow, len(s.rows))
	for id, row := range s.rows {
		out[id] = row
	}

	return out
}

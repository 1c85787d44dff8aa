package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. It favors clarity over
// performance and is the default for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds a record to the ledger.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// List returns the most recent records, oldest first, up to limit.
// A non-positive limit returns everything.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.records) > limit {
		start = len(s.records) - limit
	}
	out := make([]Record, len(s.records)-start)
	copy(out, s.records[start:])
	return out, nil
}

// Len reports how many records the ledger holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

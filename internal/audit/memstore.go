package audit

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps entries in process memory. Suitable for tests and
// single-node development; production deployments use the MySQL store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a defensive copy of the entry.
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	entry.EntityIDs = slices.Clone(entry.EntityIDs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Query returns matching entries, newest first.
func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		e.EntityIDs = slices.Clone(e.EntityIDs)
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

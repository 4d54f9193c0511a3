package msglog

import (
	"context"
	"sync"
)

// MemoryStore keeps log entries in memory for tests and dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory message log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append records the entry.
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Recent returns up to n of the latest entries for a session, oldest first.
func (s *MemoryStore) Recent(_ context.Context, sessionID string, n int) ([]Entry, error) {
	all := s.BySession(sessionID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// BySession returns the logged entries for a session in append order.
func (s *MemoryStore) BySession(sessionID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

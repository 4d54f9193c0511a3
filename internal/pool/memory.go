package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// MemoryStore is a mutex-guarded in-process pool, used by tests and
// single-node deployments. Claim is atomic under the store mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[participant.ID]Entry
}

// NewMemoryStore creates an empty in-memory pool.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[participant.ID]Entry)}
}

// Insert adds an entry, failing with ErrAlreadyQueued if the participant
// already has one.
func (s *MemoryStore) Insert(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.Snapshot.ID]; ok {
		return ErrAlreadyQueued
	}
	s.entries[e.Snapshot.ID] = e
	return nil
}

// Remove deletes the entry for id if present. Idempotent.
func (s *MemoryStore) Remove(_ context.Context, id participant.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok, nil
}

// Entries returns a snapshot of the pool ordered by priority flag
// descending, then arrival ascending, then identity for stability.
func (s *MemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Snapshot.Priority != b.Snapshot.Priority {
			return a.Snapshot.Priority
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.Snapshot.ID < b.Snapshot.ID
	})
	return out, nil
}

// Claim removes the entry for id only if its arrival timestamp still equals
// joinedAt. Returns true when this call removed the entry.
func (s *MemoryStore) Claim(_ context.Context, id participant.ID, joinedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !e.JoinedAt.Equal(joinedAt) {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

// Size returns the number of waiting entries.
func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

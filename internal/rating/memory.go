package rating

import (
	"context"
	"sync"

	"github.com/veilchat/veil/internal/participant"
)

// MemoryStore keeps ratings in process memory for tests and dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	ratings map[ratingKey]Rating
}

type ratingKey struct {
	sessionID string
	rater     participant.ID
}

// NewMemoryStore creates an empty in-memory rating store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ratings: make(map[ratingKey]Rating)}
}

// Add inserts a rating; ErrAlreadyRated when the (session, rater) pair
// exists. The stored value is never overwritten.
func (s *MemoryStore) Add(_ context.Context, r Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ratingKey{r.SessionID, r.Rater}
	if _, ok := s.ratings[key]; ok {
		return ErrAlreadyRated
	}
	s.ratings[key] = r
	return nil
}

// Has reports whether the rater already rated the session.
func (s *MemoryStore) Has(_ context.Context, sessionID string, rater participant.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ratings[ratingKey{sessionID, rater}]
	return ok, nil
}

// Get returns the stored rating for (session, rater), used by tests to
// assert the first value survives a duplicate attempt.
func (s *MemoryStore) Get(sessionID string, rater participant.ID) (Rating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ratings[ratingKey{sessionID, rater}]
	return r, ok
}

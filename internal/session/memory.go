package session

import (
	"context"
	"sync"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// MemoryStore keeps sessions in process memory. Used by tests and
// single-node dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create stores a new session.
func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Get returns the session with the given id, or nil.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// ActiveOf returns the ACTIVE session involving p, or nil.
func (s *MemoryStore) ActiveOf(_ context.Context, p participant.ID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.Status == StatusActive && sess.IsParticipant(p) {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

// End flips the session to ENDED and stamps endedAt. Ending an already ended
// session is a no-op so concurrent stop/next calls cannot fight.
func (s *MemoryStore) End(_ context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status == StatusEnded {
		return nil
	}
	sess.Status = StatusEnded
	t := endedAt
	sess.EndedAt = &t
	return nil
}

// IncrementMessages bumps the session's relayed-message counter.
func (s *MemoryStore) IncrementMessages(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Messages++
	return nil
}

package profile

import (
	"context"
	"sync"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// MemoryStore keeps profiles in process memory for tests and dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[participant.ID]*Profile
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[participant.ID]*Profile), now: time.Now}
}

// Ensure returns the profile, creating an empty one on first contact.
func (s *MemoryStore) Ensure(_ context.Context, id participant.ID) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		now := s.now()
		p = &Profile{ID: id, CreatedAt: now, UpdatedAt: now}
		s.profiles[id] = p
	}
	cp := *p
	return &cp, nil
}

// Get returns the profile or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id participant.ID) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) mutate(id participant.ID, fn func(p *Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	p.UpdatedAt = s.now()
	return nil
}

// UpdateIdentity applies upd to the participant's own attributes.
func (s *MemoryStore) UpdateIdentity(_ context.Context, id participant.ID, upd participant.PrefUpdate) error {
	return s.mutate(id, func(p *Profile) {
		apply(upd, &p.Gender, &p.Age, &p.Country)
	})
}

// UpdatePreferences applies upd to the participant's search preferences.
func (s *MemoryStore) UpdatePreferences(_ context.Context, id participant.ID, upd participant.PrefUpdate) error {
	return s.mutate(id, func(p *Profile) {
		apply(upd, &p.PrefGender, &p.PrefAge, &p.PrefCountry)
	})
}

// SetPriority grants or revokes priority ordering.
func (s *MemoryStore) SetPriority(_ context.Context, id participant.ID, priority bool) error {
	return s.mutate(id, func(p *Profile) { p.Priority = priority })
}

// AddSession bumps the session counter.
func (s *MemoryStore) AddSession(_ context.Context, id participant.ID) error {
	return s.mutate(id, func(p *Profile) { p.Sessions++ })
}

// AddMessage bumps the sent-message counter.
func (s *MemoryStore) AddMessage(_ context.Context, id participant.ID) error {
	return s.mutate(id, func(p *Profile) { p.Messages++ })
}

// AdjustKarma moves karma by delta.
func (s *MemoryStore) AdjustKarma(_ context.Context, id participant.ID, delta int) error {
	return s.mutate(id, func(p *Profile) { p.Karma += delta })
}

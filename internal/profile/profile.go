// Package profile is the durable participant record: self-declared
// attributes, search preferences, activity counters and karma. The pairing
// core reads profiles only through Snapshot; everything else is bookkeeping.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// ErrNotFound is returned by Get for an unknown participant.
var ErrNotFound = errors.New("profile: not found")

// Profile is one participant's stored record.
type Profile struct {
	ID participant.ID

	Gender  participant.Gender
	Age     *participant.AgeRange
	Country string

	PrefGender  participant.Gender
	PrefAge     *participant.AgeRange
	PrefCountry string

	Priority bool
	Karma    int
	Sessions int
	Messages int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists profiles. Identity and preference updates take the same
// tagged-update shape; fields with PrefNoChange are left alone.
type Store interface {
	// Ensure returns the profile, creating an empty one first if needed.
	Ensure(ctx context.Context, id participant.ID) (*Profile, error)
	// Get returns the profile or ErrNotFound.
	Get(ctx context.Context, id participant.ID) (*Profile, error)
	// UpdateIdentity applies upd to the participant's own attributes.
	UpdateIdentity(ctx context.Context, id participant.ID, upd participant.PrefUpdate) error
	// UpdatePreferences applies upd to the participant's search preferences.
	UpdatePreferences(ctx context.Context, id participant.ID, upd participant.PrefUpdate) error
	// SetPriority grants or revokes priority queue ordering.
	SetPriority(ctx context.Context, id participant.ID, priority bool) error
	// AddSession bumps the participant's session counter.
	AddSession(ctx context.Context, id participant.ID) error
	// AddMessage bumps the participant's sent-message counter.
	AddMessage(ctx context.Context, id participant.ID) error
	// AdjustKarma moves karma by delta (may be negative).
	AdjustKarma(ctx context.Context, id participant.ID, delta int) error
}

// Service adapts a Store to the interfaces the session manager consumes:
// snapshot provider, stats sink and reputation sink.
type Service struct {
	store Store
}

// NewService wraps store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying store for profile management endpoints.
func (s *Service) Store() Store { return s.store }

// Snapshot captures the participant's current matching view, creating the
// profile on first contact.
func (s *Service) Snapshot(ctx context.Context, id participant.ID) (participant.Snapshot, error) {
	p, err := s.store.Ensure(ctx, id)
	if err != nil {
		return participant.Snapshot{}, err
	}
	return participant.Snapshot{
		ID:          p.ID,
		Priority:    p.Priority,
		Gender:      p.Gender,
		Age:         p.Age,
		Country:     p.Country,
		PrefGender:  p.PrefGender,
		PrefAge:     p.PrefAge,
		PrefCountry: p.PrefCountry,
	}, nil
}

// AddSession bumps the session counter.
func (s *Service) AddSession(ctx context.Context, id participant.ID) error {
	return s.store.AddSession(ctx, id)
}

// AddMessage bumps the sent-message counter.
func (s *Service) AddMessage(ctx context.Context, id participant.ID) error {
	return s.store.AddMessage(ctx, id)
}

// Adjust applies a rating's karma delta.
func (s *Service) Adjust(ctx context.Context, id participant.ID, delta int) error {
	return s.store.AdjustKarma(ctx, id, delta)
}

// apply merges a tagged update into a (gender, age, country) triple.
func apply(upd participant.PrefUpdate, g *participant.Gender, age **participant.AgeRange, country *string) {
	switch upd.Gender.Op {
	case participant.PrefSet:
		*g = upd.Gender.Value
	case participant.PrefClear:
		*g = participant.GenderUnspecified
	}
	switch upd.Age.Op {
	case participant.PrefSet:
		v := upd.Age.Value
		*age = &v
	case participant.PrefClear:
		*age = nil
	}
	switch upd.Country.Op {
	case participant.PrefSet:
		*country = upd.Country.Value
	case participant.PrefClear:
		*country = ""
	}
}

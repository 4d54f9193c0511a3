package match

import (
	"context"
	"time"

	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/pool"
)

// Matcher selects at most one candidate from the waiting pool for a
// requester. Tiers are tried in a fixed order, short-circuiting on the first
// non-empty result:
//
//   - room-scoped requester: room tier, then relaxed global
//   - roomless requester:    strict global, then relaxed global
//
// The room tier filters on room membership alone. The strict global tier
// checks mutual gender and country compatibility; the relaxed tier drops the
// country check. Within every tier the pool's ordering (priority flag, then
// arrival) decides who wins.
type Matcher struct {
	pool pool.Store
	now  func() time.Time
}

// NewMatcher creates a Matcher over the given pool store.
func NewMatcher(p pool.Store) *Matcher {
	return &Matcher{pool: p, now: time.Now}
}

// Select returns the chosen candidate entry, or nil when no tier yields one.
// All tiers of one attempt are evaluated over a single pool listing so the
// ordering contract holds across the whole attempt.
func (m *Matcher) Select(ctx context.Context, requester participant.Snapshot, room string) (*pool.Entry, error) {
	entries, err := m.pool.Entries(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()

	if room != "" {
		if e := m.roomTier(entries, requester.ID, room); e != nil {
			return e, nil
		}
		return m.globalTier(entries, requester, now, false), nil
	}

	if e := m.globalTier(entries, requester, now, true); e != nil {
		return e, nil
	}
	return m.globalTier(entries, requester, now, false), nil
}

// roomTier picks the first candidate waiting in the same room. Room
// membership alone is the filter; wait time is not considered here, so a
// room-scoped requester always sees every member of its room.
func (m *Matcher) roomTier(entries []pool.Entry, self participant.ID, room string) *pool.Entry {
	for i := range entries {
		e := &entries[i]
		if e.Snapshot.ID == self {
			continue
		}
		if e.Room == room {
			return e
		}
	}
	return nil
}

// globalTier picks the first globally visible, mutually compatible
// candidate. strict additionally requires mutual country compatibility.
func (m *Matcher) globalTier(entries []pool.Entry, requester participant.Snapshot, now time.Time, strict bool) *pool.Entry {
	for i := range entries {
		e := &entries[i]
		if e.Snapshot.ID == requester.ID {
			continue
		}
		if !globallyVisible(*e, now) {
			continue
		}
		if !genderCompatible(requester, e.Snapshot) {
			continue
		}
		if strict && !countryCompatible(requester, e.Snapshot) {
			continue
		}
		return e
	}
	return nil
}

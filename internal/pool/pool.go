// Package pool implements the waiting pool: the set of participants
// currently searching for a partner. The pool stores one immutable entry per
// participant and answers ordered candidate listings; the claim primitive is
// the atomic removal that authorizes pairing with an entry.
package pool

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// ErrAlreadyQueued is returned by Insert when the participant already has a
// pool entry. The existing entry is left untouched.
var ErrAlreadyQueued = errors.New("pool: participant already queued")

// Entry is one waiting participant. JoinedAt doubles as the entry's version:
// a claim only succeeds against the exact (identity, arrival) pair it
// observed, so an entry that was claimed and re-enqueued cannot be claimed
// twice through the stale observation.
type Entry struct {
	Snapshot participant.Snapshot
	Room     string // empty = global search
	JoinedAt time.Time
}

// Waited returns how long the entry has been in the pool as of now.
func (e Entry) Waited(now time.Time) time.Duration {
	return now.Sub(e.JoinedAt)
}

// Store is the storage abstraction behind the waiting pool.
//
// Entries returns the current entries ordered by the fairness contract:
// priority flag descending, then arrival ascending. The ordering must be
// stable so that bounded retries in the claim protocol make progress.
//
// Claim conditionally removes the entry for id, but only if its JoinedAt
// still equals joinedAt. It returns true when this call removed the entry
// and false when the entry was already gone or re-enqueued — in other words,
// at most one caller wins any given (id, joinedAt) pair.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Remove(ctx context.Context, id participant.ID) (bool, error)
	Entries(ctx context.Context) ([]Entry, error)
	Claim(ctx context.Context, id participant.ID, joinedAt time.Time) (bool, error)
	Size(ctx context.Context) (int, error)
}

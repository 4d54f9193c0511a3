package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/pool"
)

// ErrAlreadyInSession rejects a search for a participant that is already in
// an active session.
var ErrAlreadyInSession = errors.New("match: participant already in an active session")

// claimAttempts bounds how often a lost claim race is retried before the
// requester falls back to enqueueing.
const claimAttempts = 3

// ActiveFunc reports whether a participant currently has an active session.
type ActiveFunc func(ctx context.Context, id participant.ID) (bool, error)

// Outcome is the result of MatchOrEnqueue. Exactly one of the two shapes
// holds: Candidate != nil (claimed a partner) or Candidate == nil with
// PoolSize describing the queue the requester joined.
type Outcome struct {
	Candidate *pool.Entry
	PoolSize  int
}

// Matched reports whether a candidate was claimed.
func (o Outcome) Matched() bool { return o.Candidate != nil }

// Coordinator wraps the Matcher with the atomic claim protocol. Two
// concurrent searches can select the same candidate, but only one claim wins;
// the loser re-runs the match a bounded number of times and then enqueues.
type Coordinator struct {
	pool      pool.Store
	matcher   *Matcher
	hasActive ActiveFunc
	now       func() time.Time
}

// NewCoordinator creates a Coordinator. hasActive guards against searching
// while in a session; it may be nil when the caller enforces that itself.
func NewCoordinator(p pool.Store, m *Matcher, hasActive ActiveFunc) *Coordinator {
	return &Coordinator{pool: p, matcher: m, hasActive: hasActive, now: time.Now}
}

// MatchOrEnqueue implements the search entry point:
//
//  1. reject when the requester already has an active session
//  2. drop any stale pool entry for the requester (cancel previous search)
//  3. select a candidate
//  4. claim it; on a lost race, retry from 3 up to claimAttempts times
//  5. on success return the claimed candidate; otherwise enqueue the
//     requester and return the pool size
func (c *Coordinator) MatchOrEnqueue(ctx context.Context, requester participant.Snapshot, room string) (Outcome, error) {
	if err := requester.Validate(); err != nil {
		return Outcome{}, err
	}
	if c.hasActive != nil {
		active, err := c.hasActive(ctx, requester.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("match: active check for %s: %w", requester.ID, err)
		}
		if active {
			return Outcome{}, ErrAlreadyInSession
		}
	}

	if _, err := c.pool.Remove(ctx, requester.ID); err != nil {
		return Outcome{}, err
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		candidate, err := c.matcher.Select(ctx, requester, room)
		if err != nil {
			return Outcome{}, err
		}
		if candidate == nil {
			break
		}

		claimed, err := c.pool.Claim(ctx, candidate.Snapshot.ID, candidate.JoinedAt)
		if err != nil {
			return Outcome{}, err
		}
		if claimed {
			return Outcome{Candidate: candidate}, nil
		}
		// Lost the race for this candidate; someone else claimed it first.
		log.Printf("[match] claim lost for %s (attempt %d), retrying", candidate.Snapshot.ID, attempt+1)
	}

	err := c.pool.Insert(ctx, pool.Entry{
		Snapshot: requester,
		Room:     room,
		JoinedAt: c.now(),
	})
	if err != nil && !errors.Is(err, pool.ErrAlreadyQueued) {
		return Outcome{}, err
	}

	size, err := c.pool.Size(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{PoolSize: size}, nil
}

// Requeue puts a previously claimed entry back into the pool with a fresh
// arrival time, so a candidate whose pairing could not be completed is not
// lost.
func (c *Coordinator) Requeue(ctx context.Context, e pool.Entry) error {
	e.JoinedAt = c.now()
	err := c.pool.Insert(ctx, e)
	if errors.Is(err, pool.ErrAlreadyQueued) {
		return nil
	}
	return err
}

// CancelSearch removes any pool entry for id. Idempotent; reports whether an
// entry existed.
func (c *Coordinator) CancelSearch(ctx context.Context, id participant.ID) (bool, error) {
	return c.pool.Remove(ctx, id)
}

// QueueSize returns the current number of waiting participants.
func (c *Coordinator) QueueSize(ctx context.Context) (int, error) {
	return c.pool.Size(ctx)
}

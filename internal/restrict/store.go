// Package restrict keeps temporary matchmaking restrictions in Redis.
// A restricted participant cannot start a search until the record expires:
//
//	Key:   restrict:<participant>
//	Value: <reason>
//	TTL:   restriction duration
//
// Repeated reports escalate the duration; the report counter itself expires
// after a quiet day.
package restrict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/participant"
)

const (
	// KeyPrefix is the Redis key prefix for restriction records.
	KeyPrefix = "restrict:"

	// ReportsPrefix is the Redis key prefix for report counters.
	ReportsPrefix = "restrict:reports:"

	// Escalating restriction durations.
	First  = 15 * time.Minute
	Second = 1 * time.Hour
	Later  = 24 * time.Hour

	// ReportsTTL is how long the report counter lives without new reports.
	ReportsTTL = 24 * time.Hour

	// AutoThreshold is the number of reports within ReportsTTL that triggers
	// an automatic restriction.
	AutoThreshold = 3
)

// Status describes a participant's current restriction.
type Status struct {
	Restricted bool
	Remaining  time.Duration
	Reason     string
}

// Store manages restriction records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a restriction store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Check reports whether the participant is currently restricted. Redis
// errors are returned so callers can decide the policy; the manager fails
// open.
func (s *Store) Check(ctx context.Context, id participant.ID) (Status, error) {
	key := KeyPrefix + string(id)

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The record exists but the TTL read failed. Report restricted with
		// zero remaining rather than swallowing the restriction.
		return Status{Restricted: true, Reason: reason}, nil
	}
	st := Status{Restricted: true, Reason: reason}
	if ttl > 0 {
		st.Remaining = ttl
	}
	return st, nil
}

// Restrict applies a restriction for the given duration.
func (s *Store) Restrict(ctx context.Context, id participant.ID, duration time.Duration, reason string) error {
	return s.client.Set(ctx, KeyPrefix+string(id), reason, duration).Err()
}

// Lift removes a restriction immediately.
func (s *Store) Lift(ctx context.Context, id participant.ID) error {
	return s.client.Del(ctx, KeyPrefix+string(id)).Err()
}

// escalationDuration returns the restriction duration for a report count.
func escalationDuration(count int) time.Duration {
	switch {
	case count <= AutoThreshold:
		return First
	case count == AutoThreshold+1:
		return Second
	default:
		return Later
	}
}

// ReportAndCheck increments the report counter for a participant and applies
// an automatic restriction once AutoThreshold reports accumulate within
// ReportsTTL. Returns whether a restriction was applied and for how long.
func (s *Store) ReportAndCheck(ctx context.Context, id participant.ID) (bool, time.Duration, error) {
	key := ReportsPrefix + string(id)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("restrict: report incr: %w", err)
	}

	// Set the TTL only on the first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("restrict: report expire: %w", err)
		}
	}

	if count >= AutoThreshold {
		duration := escalationDuration(int(count))
		if err := s.Restrict(ctx, id, duration, "multiple_reports"); err != nil {
			return false, 0, fmt.Errorf("restrict: apply: %w", err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}

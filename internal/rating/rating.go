// Package rating records post-session feedback. One rating per
// (session, rater) pair, enforced by the store; a second attempt fails with
// ErrAlreadyRated and never overwrites the first.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// ErrAlreadyRated is returned when a rater has already rated a session.
var ErrAlreadyRated = errors.New("rating: already rated")

// Value is the closed set of rating values.
type Value string

const (
	Positive Value = "positive"
	Negative Value = "negative"
)

// ParseValue validates a wire string into a Value.
func ParseValue(s string) (Value, error) {
	switch Value(s) {
	case Positive, Negative:
		return Value(s), nil
	default:
		return "", fmt.Errorf("rating: unknown value %q", s)
	}
}

// Rating is one participant's verdict on an ended session. Immutable once
// stored.
type Rating struct {
	SessionID string
	Rater     participant.ID
	Ratee     participant.ID
	Value     Value
	CreatedAt time.Time
}

// Store persists ratings.
type Store interface {
	// Add inserts a rating; ErrAlreadyRated when (session, rater) exists.
	Add(ctx context.Context, r Rating) error
	// Has reports whether the rater has rated the session.
	Has(ctx context.Context, sessionID string, rater participant.ID) (bool, error)
}

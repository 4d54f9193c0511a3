package session

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// ErrNotFound is returned for operations against a session id that does not
// exist.
var ErrNotFound = errors.New("session: not found")

// Store persists sessions. At most one ACTIVE session may reference a given
// participant; the manager relies on ActiveOf to enforce that.
//
// Get and ActiveOf return (nil, nil) when nothing matches; only storage
// faults produce errors.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ActiveOf(ctx context.Context, p participant.ID) (*Session, error)
	End(ctx context.Context, id string, endedAt time.Time) error
	IncrementMessages(ctx context.Context, id string) error
}

// Package session holds the paired-session record, its storage, and the
// manager that drives the participant-facing state machine:
//
//	IDLE -> SEARCHING -> ACTIVE -> ENDED (unrated) -> ENDED (rated)
//
// Sessions are never deleted; ended sessions stay around for ratings and
// statistics.
package session

import (
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is one paired conversation between two participants.
type Session struct {
	ID        string
	UserA     participant.ID
	UserB     participant.ID
	Room      string // empty when the pairing was not room-scoped
	Status    Status
	Messages  int
	StartedAt time.Time
	EndedAt   *time.Time
}

// Partner returns the other participant's identity, or "" when id is not a
// participant of this session.
func (s *Session) Partner(id participant.ID) participant.ID {
	if id == s.UserA {
		return s.UserB
	}
	if id == s.UserB {
		return s.UserA
	}
	return ""
}

// IsParticipant reports whether id is one of the two participants.
func (s *Session) IsParticipant(id participant.ID) bool {
	return id == s.UserA || id == s.UserB
}

// Package report provides PostgreSQL-backed storage for abuse reports.
// Each report captures who reported whom, the session context, and the last
// few messages exchanged (for moderator review).
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// ValidReason reports whether reason is one of the allowed values.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Report represents a single abuse report to be persisted.
type Report struct {
	SessionID string
	Reporter  participant.ID
	Reported  participant.ID
	Reason    string
	Messages  []MessageEntry // last N messages from the session log
}

// MessageEntry is one message in the conversation snapshot attached to a
// report. From is "reporter" or "reported", never the raw identity.
type MessageEntry struct {
	From string `json:"from"`
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Ts   int64  `json:"ts"`
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report. Messages are marshalled to JSONB; the
// reason is validated against the allowed set before insertion.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !ValidReason(r.Reason) {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	var messagesJSON []byte
	if len(r.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(r.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (session_id, reporter, reported, reason, messages)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		r.SessionID, string(r.Reporter), string(r.Reported), r.Reason, messagesJSON)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a participant
// within the given time window.
func (s *Store) CountRecent(ctx context.Context, reported participant.ID, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, string(reported), window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

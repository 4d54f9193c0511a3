package msglog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veilchat/veil/internal/participant"
)

// PostgresStore appends message log rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a message log backed by the given handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one log row.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO message_logs (session_id, sender, receiver, kind, text, file_ref, caption, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`

	_, err := s.db.ExecContext(ctx, query,
		e.SessionID, string(e.Sender), string(e.Receiver), e.Kind,
		e.Text, e.FileRef, e.Caption, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("msglog: append %s: %w", e.SessionID, err)
	}
	return nil
}

// Recent returns up to n of the latest entries for a session, oldest first.
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	const query = `
		SELECT sender, receiver, kind, COALESCE(text, ''), COALESCE(file_ref, ''), COALESCE(caption, ''), created_at
		FROM (
			SELECT * FROM message_logs
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) latest
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("msglog: recent %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{SessionID: sessionID}
		var sender, receiver string
		if err := rows.Scan(&sender, &receiver, &e.Kind, &e.Text, &e.FileRef, &e.Caption, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("msglog: recent %s: %w", sessionID, err)
		}
		e.Sender = participant.ID(sender)
		e.Receiver = participant.ID(receiver)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msglog: recent %s: %w", sessionID, err)
	}
	return out, nil
}

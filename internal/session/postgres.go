package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// PostgresStore persists sessions in the sessions table. Single-row writes
// only; the store needs no locking beyond the database's own atomicity.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a session store backed by the given handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	const query = `
		INSERT INTO sessions (id, user_a, user_b, room, status, messages, started_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, string(sess.UserA), string(sess.UserB), sess.Room,
		string(sess.Status), sess.Messages, sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("session: insert %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns the session with the given id, or nil when absent.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	const query = `
		SELECT id, user_a, user_b, COALESCE(room, ''), status, messages, started_at, ended_at
		FROM sessions
		WHERE id = $1`

	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// ActiveOf returns the ACTIVE session involving p, or nil. The partial
// indexes on (status, user_a) and (status, user_b) keep this a point lookup.
func (s *PostgresStore) ActiveOf(ctx context.Context, p participant.ID) (*Session, error) {
	const query = `
		SELECT id, user_a, user_b, COALESCE(room, ''), status, messages, started_at, ended_at
		FROM sessions
		WHERE status = 'active' AND (user_a = $1 OR user_b = $1)
		LIMIT 1`

	return s.scanOne(s.db.QueryRowContext(ctx, query, string(p)))
}

// End marks the session ENDED. No-op when it already is, so concurrent
// stop/next calls settle on the first ended_at.
func (s *PostgresStore) End(ctx context.Context, id string, endedAt time.Time) error {
	const query = `
		UPDATE sessions
		SET status = 'ended', ended_at = $2
		WHERE id = $1 AND status = 'active'`

	res, err := s.db.ExecContext(ctx, query, id, endedAt)
	if err != nil {
		return fmt.Errorf("session: end %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already ended (fine) or missing.
		existing, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
	}
	return nil
}

// IncrementMessages bumps the relayed-message counter.
func (s *PostgresStore) IncrementMessages(ctx context.Context, id string) error {
	const query = `UPDATE sessions SET messages = messages + 1 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("session: increment messages %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*Session, error) {
	var (
		sess          Session
		userA, userB  string
		status        string
		endedAt       sql.NullTime
	)
	err := row.Scan(&sess.ID, &userA, &userB, &sess.Room, &status,
		&sess.Messages, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: scan: %w", err)
	}
	sess.UserA = participant.ID(userA)
	sess.UserB = participant.ID(userB)
	sess.Status = Status(status)
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

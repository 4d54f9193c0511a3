package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/veilchat/veil/internal/participant"
)

// PostgresStore persists ratings. Uniqueness of (session_id, rater) is a
// unique index; a violation surfaces as ErrAlreadyRated so a lost race and a
// repeated click look the same to the caller.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a rating store backed by the given handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Add inserts a rating row.
func (s *PostgresStore) Add(ctx context.Context, r Rating) error {
	const query = `
		INSERT INTO ratings (session_id, rater, ratee, value, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		r.SessionID, string(r.Rater), string(r.Ratee), string(r.Value), r.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrAlreadyRated
		}
		return fmt.Errorf("rating: insert %s/%s: %w", r.SessionID, r.Rater, err)
	}
	return nil
}

// Has reports whether the rater already rated the session.
func (s *PostgresStore) Has(ctx context.Context, sessionID string, rater participant.ID) (bool, error) {
	const query = `SELECT 1 FROM ratings WHERE session_id = $1 AND rater = $2`

	var one int
	err := s.db.QueryRowContext(ctx, query, sessionID, string(rater)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rating: lookup %s/%s: %w", sessionID, rater, err)
	}
	return true, nil
}

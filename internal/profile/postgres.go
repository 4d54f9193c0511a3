package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/veilchat/veil/internal/participant"
)

// PostgresStore persists profiles in the profiles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	insertProfileQuery = `
		INSERT INTO profiles (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`

	selectProfileQuery = `
		SELECT id, gender, age_min, age_max, country,
		       pref_gender, pref_age_min, pref_age_max, pref_country,
		       priority, karma, sessions, messages, created_at, updated_at
		FROM profiles WHERE id = $1`
)

// Ensure returns the profile, creating an empty row on first contact.
func (s *PostgresStore) Ensure(ctx context.Context, id participant.ID) (*Profile, error) {
	if _, err := s.db.ExecContext(ctx, insertProfileQuery, string(id)); err != nil {
		return nil, fmt.Errorf("profile: ensure %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Get returns the profile or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id participant.ID) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, selectProfileQuery, string(id))

	var (
		p                  Profile
		gender, prefGender string
		ageMin, ageMax     sql.NullInt64
		prefMin, prefMax   sql.NullInt64
	)
	err := row.Scan(&p.ID, &gender, &ageMin, &ageMax, &p.Country,
		&prefGender, &prefMin, &prefMax, &p.PrefCountry,
		&p.Priority, &p.Karma, &p.Sessions, &p.Messages, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", id, err)
	}

	if p.Gender, err = participant.ParseGender(gender); err != nil {
		return nil, err
	}
	if p.PrefGender, err = participant.ParseGender(prefGender); err != nil {
		return nil, err
	}
	p.Age = rangeOf(ageMin, ageMax)
	p.PrefAge = rangeOf(prefMin, prefMax)
	return &p, nil
}

func rangeOf(min, max sql.NullInt64) *participant.AgeRange {
	if !min.Valid || !max.Valid {
		return nil
	}
	return &participant.AgeRange{Min: int(min.Int64), Max: int(max.Int64)}
}

// UpdateIdentity applies upd to the participant's own attribute columns.
func (s *PostgresStore) UpdateIdentity(ctx context.Context, id participant.ID, upd participant.PrefUpdate) error {
	return s.applyUpdate(ctx, id, upd, "gender", "age_min", "age_max", "country")
}

// UpdatePreferences applies upd to the search preference columns.
func (s *PostgresStore) UpdatePreferences(ctx context.Context, id participant.ID, upd participant.PrefUpdate) error {
	return s.applyUpdate(ctx, id, upd, "pref_gender", "pref_age_min", "pref_age_max", "pref_country")
}

// applyUpdate runs one UPDATE per touched field. Column names come from the
// two fixed sets above, never from input.
func (s *PostgresStore) applyUpdate(ctx context.Context, id participant.ID, upd participant.PrefUpdate, genderCol, minCol, maxCol, countryCol string) error {
	if upd.Gender.Op != participant.PrefNoChange {
		v := ""
		if upd.Gender.Op == participant.PrefSet {
			v = upd.Gender.Value.String()
		}
		q := fmt.Sprintf(`UPDATE profiles SET %s = $2, updated_at = now() WHERE id = $1`, genderCol)
		if err := s.exec(ctx, id, q, string(id), v); err != nil {
			return err
		}
	}
	if upd.Age.Op != participant.PrefNoChange {
		var min, max sql.NullInt64
		if upd.Age.Op == participant.PrefSet {
			min = sql.NullInt64{Int64: int64(upd.Age.Value.Min), Valid: true}
			max = sql.NullInt64{Int64: int64(upd.Age.Value.Max), Valid: true}
		}
		q := fmt.Sprintf(`UPDATE profiles SET %s = $2, %s = $3, updated_at = now() WHERE id = $1`, minCol, maxCol)
		if err := s.exec(ctx, id, q, string(id), min, max); err != nil {
			return err
		}
	}
	if upd.Country.Op != participant.PrefNoChange {
		v := ""
		if upd.Country.Op == participant.PrefSet {
			v = upd.Country.Value
		}
		q := fmt.Sprintf(`UPDATE profiles SET %s = $2, updated_at = now() WHERE id = $1`, countryCol)
		if err := s.exec(ctx, id, q, string(id), v); err != nil {
			return err
		}
	}
	return nil
}

// SetPriority grants or revokes priority ordering.
func (s *PostgresStore) SetPriority(ctx context.Context, id participant.ID, priority bool) error {
	return s.exec(ctx, id,
		`UPDATE profiles SET priority = $2, updated_at = now() WHERE id = $1`,
		string(id), priority)
}

// AddSession bumps the session counter.
func (s *PostgresStore) AddSession(ctx context.Context, id participant.ID) error {
	return s.exec(ctx, id,
		`UPDATE profiles SET sessions = sessions + 1, updated_at = now() WHERE id = $1`,
		string(id))
}

// AddMessage bumps the sent-message counter.
func (s *PostgresStore) AddMessage(ctx context.Context, id participant.ID) error {
	return s.exec(ctx, id,
		`UPDATE profiles SET messages = messages + 1, updated_at = now() WHERE id = $1`,
		string(id))
}

// AdjustKarma moves karma by delta.
func (s *PostgresStore) AdjustKarma(ctx context.Context, id participant.ID, delta int) error {
	return s.exec(ctx, id,
		`UPDATE profiles SET karma = karma + $2, updated_at = now() WHERE id = $1`,
		string(id), delta)
}

func (s *PostgresStore) exec(ctx context.Context, id participant.ID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("profile: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("profile: update %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/profile"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert stores p as the last known state of its public identifier.
// Empty enrichment fields keep previously stored values.
func (s *Store) Upsert(ctx context.Context, p profile.Profile) error {
	return upsert(ctx, s.db, p)
}

// SaveMessaged stores p and marks it messaged at the given time in one
// transaction.
func (s *Store) SaveMessaged(ctx context.Context, p profile.Profile, at time.Time) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if err := upsert(ctx, tx, p); err != nil {
			return err
		}
		return markMessaged(ctx, tx, p.PublicID, at)
	})
}

func upsert(ctx context.Context, ex execer, p profile.Profile) error {
	if p.PublicID == "" {
		return errors.New("upsert: empty public identifier")
	}
	if !p.State.Valid() || p.State == profile.StateNotFound {
		return fmt.Errorf("upsert %s: invalid state %q", p.PublicID, p.State)
	}
	now := p.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO profiles (
			public_identifier, url, state, full_name, headline,
			messaged_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(public_identifier) DO UPDATE SET
			url = excluded.url,
			state = excluded.state,
			full_name = COALESCE(NULLIF(excluded.full_name, ''), profiles.full_name),
			headline = COALESCE(NULLIF(excluded.headline, ''), profiles.headline),
			messaged_at = COALESCE(excluded.messaged_at, profiles.messaged_at),
			updated_at = excluded.updated_at
	`, p.PublicID, p.URL, string(p.State), p.FullName, p.Headline,
		nullMillis(p.MessagedAt), toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.PublicID, err)
	}
	return nil
}

// Get returns the stored profile. An identifier never seen before yields a
// profile in state NOT_FOUND and no error.
func (s *Store) Get(ctx context.Context, publicID string) (profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_identifier, url, state, full_name, headline, messaged_at, updated_at
		FROM profiles
		WHERE public_identifier = ?
	`, publicID)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{PublicID: publicID, State: profile.StateNotFound}, nil
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("failed to get profile %s: %w", publicID, err)
	}
	return p, nil
}

// List returns stored profiles, optionally filtered by state, most recently
// updated first.
func (s *Store) List(ctx context.Context, state profile.State) ([]profile.Profile, error) {
	query := `SELECT public_identifier, url, state, full_name, headline, messaged_at, updated_at FROM profiles`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY updated_at DESC, public_identifier`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func markMessaged(ctx context.Context, ex execer, publicID string, at time.Time) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE profiles SET messaged_at = ?, updated_at = ? WHERE public_identifier = ?
	`, toMillis(at), toMillis(at), publicID)
	if err != nil {
		return fmt.Errorf("failed to mark %s messaged: %w", publicID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark messaged: profile %s not stored", publicID)
	}
	return nil
}

// CountByState summarises the store.
func (s *Store) CountByState(ctx context.Context) (map[profile.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM profiles GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count profiles: %w", err)
	}
	defer rows.Close()

	counts := make(map[profile.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[profile.State(state)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (profile.Profile, error) {
	var (
		p                  profile.Profile
		state              string
		fullName, headline sql.NullString
		messagedAt         sql.NullInt64
		updatedAt          int64
	)
	if err := row.Scan(&p.PublicID, &p.URL, &state, &fullName, &headline, &messagedAt, &updatedAt); err != nil {
		return profile.Profile{}, err
	}

	p.State = profile.State(state)
	p.FullName = fullName.String
	p.Headline = headline.String
	p.UpdatedAt = fromMillis(updatedAt)
	if messagedAt.Valid {
		t := fromMillis(messagedAt.Int64)
		p.MessagedAt = &t
	}
	return p, nil
}

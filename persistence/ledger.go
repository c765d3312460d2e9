package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/quota"
)

var _ quota.Ledger = (*Store)(nil)

// ReserveAction inserts the action row only if the quota and limit checks
// hold. The checks run inside the INSERT, which SQLite executes under the
// database write lock, so stores opened by different processes agree.
func (s *Store) ReserveAction(ctx context.Context, slot quota.Slot) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (kind, public_identifier, performed_at)
		SELECT ?, ?, ?
		WHERE (SELECT COUNT(*) FROM actions WHERE kind = ? AND performed_at >= ?) < ?
		AND NOT EXISTS (SELECT 1 FROM limit_events WHERE kind = ? AND detected_at >= ?)
	`, string(slot.Kind), slot.PublicID, toMillis(slot.At),
		string(slot.Kind), toMillis(slot.Since), slot.Max,
		string(slot.Kind), toMillis(slot.HaltedSince))
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve %s action: %w", slot.Kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve %s action: %w", slot.Kind, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve %s action: %w", slot.Kind, err)
	}
	return id, true, nil
}

func (s *Store) ReleaseAction(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to release action %d: %w", id, err)
	}
	return nil
}

func (s *Store) CountActionsSince(ctx context.Context, kind quota.Kind, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM actions WHERE kind = ? AND performed_at >= ?
	`, string(kind), toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s actions: %w", kind, err)
	}
	return n, nil
}

func (s *Store) RecordLimit(ctx context.Context, kind quota.Kind, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO limit_events (kind, reason, detected_at) VALUES (?, ?, ?)
	`, string(kind), reason, toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to record %s limit: %w", kind, err)
	}
	return nil
}

func (s *Store) LastLimit(ctx context.Context, kind quota.Kind) (time.Time, bool, error) {
	var at sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(detected_at) FROM limit_events WHERE kind = ?
	`, string(kind)).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last %s limit: %w", kind, err)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(at.Int64), true, nil
}

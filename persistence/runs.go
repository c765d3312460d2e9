package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run status values
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunStopped    = "stopped"
	RunFailed     = "failed"
)

// Run is the stored record of one campaign execution.
type Run struct {
	ID         string     `json:"id"`
	Campaign   string     `json:"campaign_name"`
	SessionKey string     `json:"session_key"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	StopReason string     `json:"stop_reason,omitempty"`
	Error      string     `json:"error_message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StartRun inserts an in-progress run.
func (s *Store) StartRun(ctx context.Context, r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Status = RunInProgress

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, campaign_name, session_key, mode, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Campaign, r.SessionKey, r.Mode, r.Status, r.Total, toMillis(r.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stores the final counters and status of r.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	now := time.Now()
	r.FinishedAt = &now

	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_runs SET
			status = ?, processed = ?, succeeded = ?, failed = ?,
			stop_reason = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, r.Status, r.Processed, r.Succeeded, r.Failed,
		r.StopReason, r.Error, toMillis(now), r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, campaign_name, session_key, mode, status, total, processed,
	succeeded, failed, stop_reason, error_message, started_at, finished_at`

// GetRun returns the run with id, or nil if there is none.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM campaign_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM campaign_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                 Run
		stopReason, errMs sql.NullString
		startedAt         int64
		finishedAt        sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Campaign, &r.SessionKey, &r.Mode, &r.Status, &r.Total,
		&r.Processed, &r.Succeeded, &r.Failed, &stopReason, &errMs, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.StopReason = stopReason.String
	r.Error = errMs.String
	r.StartedAt = fromMillis(startedAt)
	if finishedAt.Valid {
		t := fromMillis(finishedAt.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}

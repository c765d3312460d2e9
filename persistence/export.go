package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/profile"
)

// Snapshot is a JSON backup of one account's store.
type Snapshot struct {
	Handle     string                `json:"handle"`
	ExportedAt time.Time             `json:"exported_at"`
	Counts     map[profile.State]int `json:"counts"`
	Profiles   []profile.Profile     `json:"profiles"`
	Runs       []*Run                `json:"runs"`
}

// Export writes every profile and the most recent runs to w as JSON.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	profiles, err := s.List(ctx, "")
	if err != nil {
		return err
	}
	counts, err := s.CountByState(ctx)
	if err != nil {
		return err
	}
	runs, err := s.ListRuns(ctx, 100)
	if err != nil {
		return err
	}

	snap := Snapshot{
		Handle:     s.handle,
		ExportedAt: time.Now().UTC(),
		Counts:     counts,
		Profiles:   profiles,
		Runs:       runs,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

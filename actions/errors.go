// Package actions implements the outreach actions as transitions of a
// profile's state. Every driver failure is translated here: callers only
// ever see *SkipProfileError, *ReachedConnectionLimitError or *ActionError.
package actions

import (
	"fmt"

	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

// SkipProfileError means the site refused this profile; the campaign moves
// on to the next one.
type SkipProfileError struct {
	PublicID string
	Reason   string
	Signal   *stealth.Signal
}

func (e *SkipProfileError) Error() string {
	return fmt.Sprintf("skip profile %s: %s", e.PublicID, e.Reason)
}

// ReachedConnectionLimitError means the account hit the site's invitation
// limit. It ends the whole run.
type ReachedConnectionLimitError struct {
	PublicID string
	Signal   *stealth.Signal
}

func (e *ReachedConnectionLimitError) Error() string {
	return fmt.Sprintf("connection limit reached after inviting %s: %s", e.PublicID, e.Signal.Message)
}

// ActionError wraps a driver failure together with the state it maps to.
type ActionError struct {
	Op       string
	PublicID string
	State    profile.State
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.PublicID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func actionErr(op string, p *profile.Profile, err error) *ActionError {
	return &ActionError{Op: op, PublicID: p.PublicID, State: profile.StateError, Err: err}
}

// Package profile models a target profile's outreach lifecycle.
package profile

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// State is a profile's last known outreach state.
type State string

const (
	StateNew       State = "NEW"
	StateEnriched  State = "ENRICHED"
	StatePending   State = "PENDING"
	StateConnected State = "CONNECTED"
	StateSkipped   State = "SKIPPED"
	StateError     State = "ERROR"
	StateNotFound  State = "NOT_FOUND"
)

// Rank orders the happy path NEW < ENRICHED < PENDING < CONNECTED.
// Side states rank zero.
func (s State) Rank() int {
	switch s {
	case StateNew:
		return 1
	case StateEnriched:
		return 2
	case StatePending:
		return 3
	case StateConnected:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateEnriched, StatePending, StateConnected,
		StateSkipped, StateError, StateNotFound:
		return true
	}
	return false
}

// Settled reports whether no further connect attempt is needed.
func (s State) Settled() bool {
	return s == StatePending || s == StateConnected
}

// MessageStatus is the outcome of a send_message attempt.
type MessageStatus string

const (
	MessageSent    MessageStatus = "SENT"
	MessageSkipped MessageStatus = "SKIPPED"
	MessageError   MessageStatus = "ERROR"
)

// Profile is a target identity.
type Profile struct {
	PublicID   string     `json:"public_identifier"`
	URL        string     `json:"url"`
	State      State      `json:"state"`
	FullName   string     `json:"full_name,omitempty"`
	Headline   string     `json:"headline,omitempty"`
	MessagedAt *time.Time `json:"messaged_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// New builds a NEW profile from a profile URL.
func New(rawURL string) (*Profile, error) {
	id, err := PublicID(rawURL)
	if err != nil {
		return nil, err
	}
	return &Profile{
		PublicID: id,
		URL:      strings.TrimSpace(rawURL),
		State:    StateNew,
	}, nil
}

// Advance moves the profile to next. On the happy path the state never
// moves backwards: a CONNECTED profile observed as PENDING stays CONNECTED.
// Side states always apply since they describe the current attempt.
func (p *Profile) Advance(next State) {
	if next.Rank() > 0 && p.State.Rank() > next.Rank() {
		return
	}
	p.State = next
}

// FirstName returns the first word of the display name.
func (p *Profile) FirstName() string {
	fields := strings.Fields(p.FullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// PublicID derives the public identifier from a profile URL of the form
// https://host/in/<id>/... The result is percent-decoded.
func PublicID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid profile url %q: %w", rawURL, err)
	}

	parts := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(parts) < 2 || parts[0] != "in" || parts[1] == "" {
		return "", fmt.Errorf("not a profile url: %q", rawURL)
	}

	id, err := url.PathUnescape(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid profile id in %q: %w", rawURL, err)
	}
	return id, nil
}

// URLFor builds the canonical profile URL for a public identifier.
func URLFor(baseURL, publicID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/in/" + url.PathEscape(publicID) + "/"
}

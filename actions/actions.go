package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

// Bounded waits for UI that renders lazily.
const (
	AddNoteTimeout      = 10 * time.Second
	NoteInputTimeout    = 15 * time.Second
	MessageInputTimeout = 10 * time.Second
)

// Actor performs actions on profiles through a session's driver.
type Actor struct {
	log *zap.Logger
	// settle is the short pause taken between UI steps.
	settle stealth.Pacer
}

func New(log *zap.Logger, settle stealth.Pacer) *Actor {
	return &Actor{log: log.Named("actions"), settle: settle}
}

func (a *Actor) pause(ctx context.Context) error {
	return a.settle.Wait(ctx)
}

// open navigates to the profile page and rejects pages that are not the
// profile (auth wall, checkpoint, login).
func (a *Actor) open(ctx context.Context, d driver.Driver, p *profile.Profile) error {
	if err := d.Navigate(ctx, p.URL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := d.WaitReady(ctx); err != nil {
		return fmt.Errorf("wait ready: %w", err)
	}
	current, err := d.URL(ctx)
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}
	if sig := stealth.ClassifyURL(current); sig != nil {
		return sig
	}
	return nil
}

// CheckStatus navigates to p and classifies the relationship as CONNECTED,
// PENDING or NEW. It never consumes quota.
func (a *Actor) CheckStatus(ctx context.Context, s *session.Session, p *profile.Profile) (profile.State, error) {
	d := s.Driver()
	if err := a.open(ctx, d, p); err != nil {
		return profile.StateError, actionErr("check_status", p, err)
	}
	state, err := a.observe(ctx, d)
	if err != nil {
		return profile.StateError, actionErr("check_status", p, err)
	}
	a.log.Debug("status observed",
		zap.String("profile", p.PublicID),
		zap.String("state", string(state)))
	return state, nil
}

// observe classifies the profile page that is currently open.
func (a *Actor) observe(ctx context.Context, d driver.Driver) (profile.State, error) {
	connected, err := d.Locate(ctx, driver.TargetConnectedBadge)
	if err != nil {
		return profile.StateError, err
	}
	if connected != nil {
		return profile.StateConnected, nil
	}
	pending, err := d.Locate(ctx, driver.TargetPendingBadge)
	if err != nil {
		return profile.StateError, err
	}
	if pending != nil {
		return profile.StatePending, nil
	}
	return profile.StateNew, nil
}

// Enrich navigates to p and copies the display name and headline onto it.
// A NEW profile becomes ENRICHED once a name was read.
func (a *Actor) Enrich(ctx context.Context, s *session.Session, p *profile.Profile) error {
	d := s.Driver()
	if err := a.open(ctx, d, p); err != nil {
		return actionErr("enrich", p, err)
	}
	a.scrape(ctx, d, p)
	return nil
}

// scrape reads what it can from the open page and ignores the rest.
func (a *Actor) scrape(ctx context.Context, d driver.Driver, p *profile.Profile) {
	if name := a.textOf(ctx, d, driver.TargetProfileName); name != "" {
		p.FullName = name
		if p.State == profile.StateNew {
			p.Advance(profile.StateEnriched)
		}
	}
	if headline := a.textOf(ctx, d, driver.TargetProfileHeadline); headline != "" {
		p.Headline = headline
	}
}

func (a *Actor) textOf(ctx context.Context, d driver.Driver, t driver.Target) string {
	el, err := d.Locate(ctx, t)
	if err != nil || el == nil {
		return ""
	}
	text, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

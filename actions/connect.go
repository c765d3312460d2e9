package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

// ConnectResult reports what Connect did.
type ConnectResult struct {
	State profile.State
	// Sent is true when an invitation was submitted during this call.
	Sent bool
	// WithNote is true when the submitted invitation carried the note.
	WithNote bool
}

// Connect sends a connection request to p, with note when it is non-empty.
//
// A profile already PENDING or CONNECTED is returned as is without touching
// the invite controls. When the note composer cannot be reached the request
// is sent without a note instead. The result state is PENDING after a
// submission and ENRICHED when no invite control could be used.
func (a *Actor) Connect(ctx context.Context, s *session.Session, p *profile.Profile, note string) (ConnectResult, error) {
	log := a.log.With(zap.String("profile", p.PublicID))

	state, err := a.CheckStatus(ctx, s, p)
	if err != nil {
		return ConnectResult{State: profile.StateError}, err
	}
	if state.Settled() {
		log.Info("skipping connect", zap.String("state", string(state)))
		p.Advance(state)
		return ConnectResult{State: p.State}, nil
	}

	d := s.Driver()
	a.scrape(ctx, d, p)

	var res ConnectResult
	if note != "" {
		res.Sent, res.WithNote, err = a.inviteWithNote(ctx, d, p, RenderNote(note, p))
	} else {
		res.Sent, err = a.inviteWithoutNote(ctx, d, p)
	}
	if err != nil {
		return ConnectResult{State: profile.StateError}, wrap("connect", p, err)
	}

	if !res.Sent {
		p.Advance(profile.StateEnriched)
		res.State = p.State
		log.Info("no invite control found", zap.String("state", string(res.State)))
		return res, nil
	}

	p.Advance(profile.StatePending)
	res.State = p.State
	log.Info("connection request sent", zap.Bool("with_note", res.WithNote))

	if err := a.checkInviteLimit(ctx, d, p); err != nil {
		return res, err
	}
	return res, nil
}

// openInvite clicks Connect, directly or through the More menu. It returns
// false when neither control exists.
func (a *Actor) openInvite(ctx context.Context, d driver.Driver, p *profile.Profile) (bool, error) {
	if err := a.pause(ctx); err != nil {
		return false, err
	}

	btn, err := d.Locate(ctx, driver.TargetConnectButton)
	if err != nil {
		return false, err
	}
	if btn == nil {
		btn, err = a.viaMoreMenu(ctx, d)
		if err != nil || btn == nil {
			return false, err
		}
	}
	if err := d.Click(ctx, btn, driver.ClickOptions{}); err != nil {
		return false, fmt.Errorf("click connect: %w", err)
	}
	if err := a.pause(ctx); err != nil {
		return false, err
	}

	toast, err := d.Locate(ctx, driver.TargetErrorToast)
	if err != nil {
		return false, err
	}
	if toast != nil {
		text, _ := toast.Text(ctx)
		sig := stealth.ClassifyText(text)
		if sig == nil {
			sig = &stealth.Signal{Type: stealth.SignalCannotConnect, Message: "error toast", Action: stealth.ActionSkip}
		}
		return false, &SkipProfileError{PublicID: p.PublicID, Reason: sig.Message, Signal: sig}
	}
	return true, nil
}

func (a *Actor) viaMoreMenu(ctx context.Context, d driver.Driver) (driver.Element, error) {
	more, err := d.Locate(ctx, driver.TargetMoreActions)
	if err != nil || more == nil {
		return nil, err
	}
	if err := d.Click(ctx, more, driver.ClickOptions{}); err != nil {
		return nil, fmt.Errorf("open more menu: %w", err)
	}
	if err := a.pause(ctx); err != nil {
		return nil, err
	}
	return d.Locate(ctx, driver.TargetMoreConnect)
}

func (a *Actor) inviteWithoutNote(ctx context.Context, d driver.Driver, p *profile.Profile) (bool, error) {
	opened, err := a.openInvite(ctx, d, p)
	if err != nil || !opened {
		return false, err
	}
	if err := a.pause(ctx); err != nil {
		return false, err
	}

	send, err := d.Locate(ctx, driver.TargetSendWithoutNote)
	if err != nil {
		return false, err
	}
	if send == nil {
		if send, err = d.Locate(ctx, driver.TargetSendInvite); err != nil || send == nil {
			return false, err
		}
	}
	if err := d.Click(ctx, send, driver.ClickOptions{Force: true}); err != nil {
		return false, fmt.Errorf("send invite: %w", err)
	}
	return true, a.pause(ctx)
}

// inviteWithNote returns (sent, withNote, err). A composer that never shows
// up means the account ran out of notes; the invite then goes out bare.
func (a *Actor) inviteWithNote(ctx context.Context, d driver.Driver, p *profile.Profile, note string) (bool, bool, error) {
	opened, err := a.openInvite(ctx, d, p)
	if err != nil || !opened {
		return false, false, err
	}
	if err := a.pause(ctx); err != nil {
		return false, false, err
	}

	sent, err := a.fillNote(ctx, d, note)
	switch {
	case err == nil:
		return sent, sent, nil
	case !driver.IsTimeout(err) || ctx.Err() != nil:
		return false, false, err
	}

	a.log.Warn("note composer unavailable, sending without note",
		zap.String("profile", p.PublicID), zap.Error(err))

	if err := d.Press(ctx, driver.KeyEscape); err != nil {
		a.log.Debug("escape failed", zap.Error(err))
	}
	if err := a.open(ctx, d, p); err != nil {
		return false, false, fmt.Errorf("reopen profile: %w", err)
	}
	sent, err = a.inviteWithoutNote(ctx, d, p)
	return sent, false, err
}

func (a *Actor) fillNote(ctx context.Context, d driver.Driver, note string) (bool, error) {
	addNote, err := d.WaitFor(ctx, driver.TargetAddNote, AddNoteTimeout)
	if err != nil {
		return false, err
	}
	if err := d.Click(ctx, addNote, driver.ClickOptions{}); err != nil {
		return false, fmt.Errorf("click add note: %w", err)
	}
	if err := a.pause(ctx); err != nil {
		return false, err
	}

	input, err := d.WaitFor(ctx, driver.TargetNoteInput, NoteInputTimeout)
	if err != nil {
		return false, err
	}
	if err := d.Fill(ctx, input, note); err != nil {
		return false, fmt.Errorf("fill note: %w", err)
	}
	if err := a.pause(ctx); err != nil {
		return false, err
	}

	send, err := d.Locate(ctx, driver.TargetSendInvite)
	if err != nil || send == nil {
		return false, err
	}
	if err := d.Click(ctx, send, driver.ClickOptions{Force: true}); err != nil {
		return false, fmt.Errorf("send invite: %w", err)
	}
	return true, a.pause(ctx)
}

// checkInviteLimit raises ReachedConnectionLimit when the weekly limit
// banner is on screen.
func (a *Actor) checkInviteLimit(ctx context.Context, d driver.Driver, p *profile.Profile) error {
	banner, err := d.Locate(ctx, driver.TargetInviteLimitBanner)
	if err != nil {
		// Invite already sent.
		a.log.Debug("limit banner probe failed", zap.Error(err))
		return nil
	}
	if banner == nil {
		return nil
	}

	text, _ := banner.Text(ctx)
	sig := stealth.ClassifyText(text)
	if sig == nil || sig.Type != stealth.SignalWeeklyInviteLimit {
		sig = &stealth.Signal{
			Type:    stealth.SignalWeeklyInviteLimit,
			Message: strings.TrimSpace("weekly invitation limit reached " + text),
			Action:  stealth.ActionStop,
		}
	}
	a.log.Warn("weekly invitation limit reached", zap.String("profile", p.PublicID))
	return &ReachedConnectionLimitError{PublicID: p.PublicID, Signal: sig}
}

// wrap passes the typed signals through and turns anything else into an
// ActionError.
func wrap(op string, p *profile.Profile, err error) error {
	var (
		skip  *SkipProfileError
		limit *ReachedConnectionLimitError
		act   *ActionError
	)
	if errors.As(err, &skip) || errors.As(err, &limit) || errors.As(err, &act) {
		return err
	}
	return actionErr(op, p, err)
}

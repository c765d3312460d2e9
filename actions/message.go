package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

// SendMessage messages a connected profile. The text may use the {name},
// {first_name} and {headline} placeholders; enrichment that fails leaves
// them empty but does not stop the message.
//
// SKIPPED means the profile offers no message control (typically not
// connected) or the composer never opened. ERROR comes with an *ActionError.
func (a *Actor) SendMessage(ctx context.Context, s *session.Session, p *profile.Profile, text string) (profile.MessageStatus, error) {
	log := a.log.With(zap.String("profile", p.PublicID))
	d := s.Driver()

	if err := a.open(ctx, d, p); err != nil {
		return profile.MessageError, actionErr("send_message", p, err)
	}
	a.scrape(ctx, d, p)

	body := Render(text, Vars(p))
	if body == "" {
		log.Warn("message is empty after rendering")
		return profile.MessageSkipped, nil
	}

	btn, err := d.Locate(ctx, driver.TargetMessageButton)
	if err != nil {
		return profile.MessageError, actionErr("send_message", p, err)
	}
	if btn == nil {
		log.Info("no message control, profile is probably not connected")
		return profile.MessageSkipped, nil
	}
	if err := d.Click(ctx, btn, driver.ClickOptions{}); err != nil {
		return profile.MessageError, actionErr("send_message", p, fmt.Errorf("open composer: %w", err))
	}
	if err := a.pause(ctx); err != nil {
		return profile.MessageError, actionErr("send_message", p, err)
	}

	input, err := d.WaitFor(ctx, driver.TargetMessageInput, MessageInputTimeout)
	if err != nil {
		if driver.IsTimeout(err) && ctx.Err() == nil {
			log.Info("message composer did not open")
			return profile.MessageSkipped, nil
		}
		return profile.MessageError, actionErr("send_message", p, err)
	}
	if err := d.Fill(ctx, input, body); err != nil {
		return profile.MessageError, actionErr("send_message", p, fmt.Errorf("fill message: %w", err))
	}
	if err := a.pause(ctx); err != nil {
		return profile.MessageError, actionErr("send_message", p, err)
	}

	send, err := d.Locate(ctx, driver.TargetMessageSend)
	if err != nil {
		return profile.MessageError, actionErr("send_message", p, err)
	}
	if send == nil {
		return profile.MessageSkipped, nil
	}
	if err := d.Click(ctx, send, driver.ClickOptions{}); err != nil {
		return profile.MessageError, actionErr("send_message", p, fmt.Errorf("send: %w", err))
	}
	if err := a.pause(ctx); err != nil {
		return profile.MessageError, actionErr("send_message", p, err)
	}

	if toast := a.textOf(ctx, d, driver.TargetErrorToast); toast != "" {
		sig := stealth.ClassifyText(toast)
		log.Warn("message rejected", zap.String("signal", string(sig.Type)))
		return profile.MessageSkipped, &SkipProfileError{PublicID: p.PublicID, Reason: sig.Message, Signal: sig}
	}

	p.Advance(profile.StateConnected)
	log.Info("message sent")
	return profile.MessageSent, nil
}

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

const loginFieldWait = 10 * time.Second

// login submits the credential form and verifies the feed is reachable.
func (a *Authenticator) login(ctx context.Context, d driver.Driver, creds account.Credentials) error {
	if _, err := a.open(ctx, d, a.BaseURL+"/login"); err != nil {
		return err
	}

	if err := fillField(ctx, d, driver.TargetLoginEmail, creds.Username); err != nil {
		return fmt.Errorf("failed to type email: %w", err)
	}
	if err := stealth.Sleep(ctx, stealth.Between(300*time.Millisecond, 800*time.Millisecond)); err != nil {
		return err
	}
	if err := fillField(ctx, d, driver.TargetLoginPassword, creds.Password); err != nil {
		return fmt.Errorf("failed to type password: %w", err)
	}

	submit, err := d.Locate(ctx, driver.TargetLoginSubmit)
	if err != nil {
		return fmt.Errorf("locate submit: %w", err)
	}
	if submit == nil {
		return fmt.Errorf("%w: login form has no submit button", ErrNotAuthenticated)
	}
	if err := d.Click(ctx, submit, driver.ClickOptions{}); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	if err := d.WaitReady(ctx); err != nil {
		return fmt.Errorf("wait after login: %w", err)
	}

	if err := classifyLanding(ctx, d); err != nil {
		return err
	}

	landed, err := a.open(ctx, d, a.feedURL())
	if err != nil {
		return err
	}
	if sig := stealth.ClassifyURL(landed); sig != nil {
		return fmt.Errorf("%w: redirected to %s after login", ErrNotAuthenticated, landed)
	}
	return nil
}

func fillField(ctx context.Context, d driver.Driver, t driver.Target, value string) error {
	el, err := d.WaitFor(ctx, t, loginFieldWait)
	if err != nil {
		return err
	}
	return d.Fill(ctx, el, value)
}

func classifyLanding(ctx context.Context, d driver.Driver) error {
	current, err := d.URL(ctx)
	if err != nil {
		return err
	}
	sig := stealth.ClassifyURL(current)
	switch {
	case sig == nil:
		return nil
	case sig.Action == stealth.ActionManual:
		return ErrCheckpoint
	default:
		return ErrInvalidCredentials
	}
}

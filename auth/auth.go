// Package auth makes sure a driver is signed in as an account before any
// profile is touched.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrCheckpoint         = errors.New("checkpoint detected (captcha or 2FA required)")
	ErrInvalidCredentials = errors.New("login failed: invalid credentials")
)

// Authenticator signs drivers in using an account's cookie bundle, then its
// credentials. With CookieDir set, cookies captured after a credential login
// are stored per handle and tried first next time.
type Authenticator struct {
	BaseURL   string
	CookieDir string
	Log       *zap.Logger
}

func New(baseURL, cookieDir string, log *zap.Logger) *Authenticator {
	return &Authenticator{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		CookieDir: cookieDir,
		Log:       log.Named("auth"),
	}
}

func (a *Authenticator) feedURL() string {
	return a.BaseURL + "/feed/"
}

// EnsureAuthenticated guarantees d is signed in as acct.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context, d driver.Driver, acct account.Account) error {
	log := a.Log.With(zap.String("account", acct.Handle()))

	cookies, source := acct.Cookies(), "account"
	if len(cookies) == 0 {
		if stored, ok := a.loadStoredCookies(acct.Handle()); ok {
			cookies, source = stored, "cookie file"
		}
	}

	if len(cookies) > 0 {
		ok, err := a.tryCookies(ctx, d, cookies)
		if err != nil {
			return err
		}
		if ok {
			log.Info("authenticated with cookies", zap.String("source", source))
			return nil
		}
		log.Warn("cookies expired or invalid", zap.String("source", source))
	}

	creds := acct.Credentials()
	if creds.Empty() {
		return fmt.Errorf("%w: cookies rejected and no credentials for %s", ErrNotAuthenticated, acct.Handle())
	}

	log.Info("performing fresh login")
	if err := a.login(ctx, d, creds); err != nil {
		return err
	}
	log.Info("authenticated with credentials")

	a.saveSessionCookies(ctx, d, acct.Handle(), log)
	return nil
}

// tryCookies injects cookies and checks the feed does not bounce to login.
func (a *Authenticator) tryCookies(ctx context.Context, d driver.Driver, cookies []account.Cookie) (bool, error) {
	if err := d.SetCookies(ctx, cookies); err != nil {
		return false, fmt.Errorf("set cookies: %w", err)
	}
	landed, err := a.open(ctx, d, a.feedURL())
	if err != nil {
		return false, err
	}

	switch sig := stealth.ClassifyURL(landed); {
	case sig == nil:
		return true, nil
	case sig.Action == stealth.ActionManual:
		return false, fmt.Errorf("%w: %s", ErrCheckpoint, landed)
	default:
		return false, nil
	}
}

func (a *Authenticator) open(ctx context.Context, d driver.Driver, url string) (string, error) {
	if err := d.Navigate(ctx, url); err != nil {
		return "", fmt.Errorf("open %s: %w", url, err)
	}
	if err := d.WaitReady(ctx); err != nil {
		return "", fmt.Errorf("open %s: %w", url, err)
	}
	return d.URL(ctx)
}

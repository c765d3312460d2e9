package auth

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/driver"
)

func (a *Authenticator) cookiePath(handle string) string {
	return filepath.Join(a.CookieDir, handle+".cookies.json")
}

func (a *Authenticator) loadStoredCookies(handle string) ([]account.Cookie, bool) {
	if a.CookieDir == "" {
		return nil, false
	}
	cookies, err := account.ReadCookieFile(a.cookiePath(handle))
	if err != nil || len(cookies) == 0 {
		return nil, false
	}
	return cookies, true
}

// saveSessionCookies stores the browser's cookies so the next session can
// skip the login form. Failure only costs a future login.
func (a *Authenticator) saveSessionCookies(ctx context.Context, d driver.Driver, handle string, log *zap.Logger) {
	if a.CookieDir == "" {
		return
	}
	cookies, err := d.Cookies(ctx)
	if err != nil {
		log.Warn("failed to read session cookies", zap.Error(err))
		return
	}
	if err := account.WriteCookieFile(a.cookiePath(handle), cookies); err != nil {
		log.Warn("failed to save cookies", zap.Error(err))
		return
	}
	log.Debug("cookies saved", zap.Int("count", len(cookies)))
}

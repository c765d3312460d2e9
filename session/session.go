package session

import (
	"context"
	"sync"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/driver"
)

// Authenticator signs a driver in as an account.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context, d driver.Driver, acct account.Account) error
}

// Session is a live automation context owned by the Registry. Callers never
// construct one directly outside tests.
type Session struct {
	key       Key
	account   account.Account
	driver    driver.Driver
	createdAt time.Time

	mu     sync.Mutex
	authed bool

	// Guarded by the owning Registry's mu.
	leased bool
	closed bool
}

// New wraps a driver in a session. Production code obtains sessions from a
// Registry; New exists for tests of code that only consumes sessions.
func New(key Key, acct account.Account, d driver.Driver) *Session {
	return &Session{key: key, account: acct, driver: d, createdAt: time.Now()}
}

func (s *Session) Key() Key                 { return s.key }
func (s *Session) Account() account.Account { return s.account }
func (s *Session) Driver() driver.Driver    { return s.driver }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }

// EnsureAuthenticated runs auth once per session; later calls return
// immediately after a success.
func (s *Session) EnsureAuthenticated(ctx context.Context, auth Authenticator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authed {
		return nil
	}
	if err := auth.EnsureAuthenticated(ctx, s.driver, s.account); err != nil {
		return err
	}
	s.authed = true
	return nil
}

// Authenticated reports whether EnsureAuthenticated has succeeded.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// Package account holds the immutable outreach identity a campaign runs as.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultDailyConnections = 35
	DefaultDailyMessages    = 40
)

// ErrNoAuthMaterial is returned when an account has neither cookies nor
// credentials.
var ErrNoAuthMaterial = errors.New("account has no cookies or credentials")

// Cookie is one browser cookie in the format exported by browser extensions.
type Cookie struct {
	Name     string  `json:"name" yaml:"name"`
	Value    string  `json:"value" yaml:"value"`
	Domain   string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty" yaml:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty" yaml:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty" yaml:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty" yaml:"sameSite,omitempty"`
}

// UnmarshalJSON accepts both "expires" and the extension-style
// "expirationDate" field.
func (c *Cookie) UnmarshalJSON(data []byte) error {
	type plain Cookie
	var aux struct {
		plain
		ExpirationDate float64 `json:"expirationDate"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Cookie(aux.plain)
	if c.Expires == 0 {
		c.Expires = aux.ExpirationDate
	}
	return nil
}

// NormalizeSameSite maps extension values onto the browser's enum.
func NormalizeSameSite(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "no_restriction", "none":
		return "None"
	case "strict":
		return "Strict"
	default:
		return "Lax"
	}
}

// Credentials is a username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether either half is missing.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// Account is an outreach identity. It is immutable once built; use Builder.
type Account struct {
	handle           string
	cookies          []Cookie
	credentials      Credentials
	dailyConnections int
	dailyMessages    int
}

func (a Account) Handle() string           { return a.handle }
func (a Account) Credentials() Credentials { return a.credentials }
func (a Account) DailyConnections() int    { return a.dailyConnections }
func (a Account) DailyMessages() int       { return a.dailyMessages }

// Cookies returns a copy of the cookie bundle.
func (a Account) Cookies() []Cookie {
	out := make([]Cookie, len(a.cookies))
	copy(out, a.cookies)
	return out
}

// HasCookies reports whether the account carries a cookie bundle.
func (a Account) HasCookies() bool { return len(a.cookies) > 0 }

func (a Account) String() string {
	return fmt.Sprintf("account(%s)", a.handle)
}

type wireAccount struct {
	Handle           string   `json:"handle"`
	Cookies          []Cookie `json:"cookies,omitempty"`
	Username         string   `json:"username,omitempty"`
	Password         string   `json:"password,omitempty"`
	DailyConnections int      `json:"daily_connections"`
	DailyMessages    int      `json:"daily_messages"`
}

// MarshalJSON lets an account cross a process boundary.
func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAccount{
		Handle:           a.handle,
		Cookies:          a.cookies,
		Username:         a.credentials.Username,
		Password:         a.credentials.Password,
		DailyConnections: a.dailyConnections,
		DailyMessages:    a.dailyMessages,
	})
}

// UnmarshalJSON rebuilds the account through the builder so the same
// validation applies.
func (a *Account) UnmarshalJSON(data []byte) error {
	var w wireAccount
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	built, err := NewBuilder().
		WithHandle(w.Handle).
		WithCookies(w.Cookies).
		WithCredentials(w.Username, w.Password).
		WithQuotas(w.DailyConnections, w.DailyMessages).
		Build()
	if err != nil {
		return err
	}
	*a = built
	return nil
}

// HandleFromUsername derives a handle from a login name:
// "jane.doe-x@mail.com" becomes "jane_doe_x".
func HandleFromUsername(username string) string {
	local, _, _ := strings.Cut(username, "@")
	return strings.NewReplacer(".", "_", "-", "_").Replace(local)
}

// RandomCookieHandle returns "cookie_" followed by 8 lowercase
// alphanumerics.
func RandomCookieHandle() string {
	return "cookie_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

package account

import "fmt"

// Builder assembles an Account. Each With call returns the builder so calls
// chain; Build validates and freezes the result.
type Builder struct {
	handle           string
	cookies          []Cookie
	credentials      Credentials
	dailyConnections int
	dailyMessages    int
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithHandle(handle string) *Builder {
	b.handle = handle
	return b
}

// WithCookies copies the bundle and normalises each cookie's sameSite value.
func (b *Builder) WithCookies(cookies []Cookie) *Builder {
	b.cookies = make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		c.SameSite = NormalizeSameSite(c.SameSite)
		if c.Path == "" {
			c.Path = "/"
		}
		b.cookies = append(b.cookies, c)
	}
	return b
}

func (b *Builder) WithCredentials(username, password string) *Builder {
	b.credentials = Credentials{Username: username, Password: password}
	return b
}

// WithQuotas sets daily quotas. Zero keeps the default.
func (b *Builder) WithQuotas(connections, messages int) *Builder {
	b.dailyConnections = connections
	b.dailyMessages = messages
	return b
}

// Build validates the collected fields. When no handle was given one is
// derived from the username, or generated for cookie-only accounts.
func (b *Builder) Build() (Account, error) {
	if len(b.cookies) == 0 && b.credentials.Empty() {
		return Account{}, ErrNoAuthMaterial
	}
	if b.dailyConnections < 0 || b.dailyMessages < 0 {
		return Account{}, fmt.Errorf("negative quota: connections=%d messages=%d",
			b.dailyConnections, b.dailyMessages)
	}

	handle := b.handle
	if handle == "" {
		if b.credentials.Username != "" {
			handle = HandleFromUsername(b.credentials.Username)
		} else {
			handle = RandomCookieHandle()
		}
	}

	a := Account{
		handle:           handle,
		cookies:          make([]Cookie, len(b.cookies)),
		credentials:      b.credentials,
		dailyConnections: b.dailyConnections,
		dailyMessages:    b.dailyMessages,
	}
	copy(a.cookies, b.cookies)

	if a.dailyConnections == 0 {
		a.dailyConnections = DefaultDailyConnections
	}
	if a.dailyMessages == 0 {
		a.dailyMessages = DefaultDailyMessages
	}
	return a, nil
}

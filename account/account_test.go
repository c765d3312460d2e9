package account

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequiresAuthMaterial(t *testing.T) {
	_, err := NewBuilder().WithHandle("x").Build()
	require.ErrorIs(t, err, ErrNoAuthMaterial)

	_, err = NewBuilder().WithCredentials("only-user", "").Build()
	require.ErrorIs(t, err, ErrNoAuthMaterial)
}

func TestBuildDerivesHandleFromUsername(t *testing.T) {
	a, err := NewBuilder().WithCredentials("jane.doe-x@example.com", "pw").Build()
	require.NoError(t, err)
	assert.Equal(t, "jane_doe_x", a.Handle())
	assert.Equal(t, DefaultDailyConnections, a.DailyConnections())
	assert.Equal(t, DefaultDailyMessages, a.DailyMessages())
}

func TestBuildGeneratesCookieHandle(t *testing.T) {
	a, err := NewBuilder().WithCookies([]Cookie{{Name: "li_at", Value: "v"}}).Build()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^cookie_[a-z0-9]{8}$`), a.Handle())
}

func TestBuildNormalisesCookies(t *testing.T) {
	a, err := NewBuilder().WithCookies([]Cookie{
		{Name: "a", SameSite: "no_restriction"},
		{Name: "b", SameSite: "unspecified"},
		{Name: "c", SameSite: "strict"},
		{Name: "d"},
	}).Build()
	require.NoError(t, err)

	got := a.Cookies()
	assert.Equal(t, "None", got[0].SameSite)
	assert.Equal(t, "Lax", got[1].SameSite)
	assert.Equal(t, "Strict", got[2].SameSite)
	assert.Equal(t, "Lax", got[3].SameSite)
	assert.Equal(t, "/", got[3].Path)
}

func TestAccountIsImmutable(t *testing.T) {
	input := []Cookie{{Name: "li_at", Value: "one"}}
	a, err := NewBuilder().WithHandle("h").WithCookies(input).Build()
	require.NoError(t, err)

	input[0].Value = "changed"
	out := a.Cookies()
	out[0].Value = "changed too"

	assert.Equal(t, "one", a.Cookies()[0].Value)
}

func TestAccountJSONRoundTrip(t *testing.T) {
	a, err := NewBuilder().
		WithHandle("sales").
		WithCredentials("sales@example.com", "secret").
		WithQuotas(10, 12).
		Build()
	require.NoError(t, err)

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var back Account
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)
}

func TestCookieAcceptsExpirationDate(t *testing.T) {
	var c Cookie
	require.NoError(t, json.Unmarshal([]byte(`{"name":"li_at","value":"v","expirationDate":1700000000.5}`), &c))
	assert.Equal(t, 1700000000.5, c.Expires)
	assert.Equal(t, "li_at", c.Name)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteCookieFile(filepath.Join(dir, "cookies", "ops.json"), []Cookie{
		{Name: "li_at", Value: "token", SameSite: "no_restriction"},
	}))

	yamlDoc := `
accounts:
  sales:
    username: sales@example.com
    password: secret
    daily_connections: 20
  ops:
    cookie_file: cookies/ops.json
  paused:
    username: p@example.com
    password: x
    active: false
`
	path := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	accounts, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	sales := accounts["sales"]
	assert.Equal(t, "sales", sales.Handle())
	assert.Equal(t, 20, sales.DailyConnections())
	assert.Equal(t, DefaultDailyMessages, sales.DailyMessages())

	ops := accounts["ops"]
	require.True(t, ops.HasCookies())
	assert.Equal(t, "None", ops.Cookies()[0].SameSite)
}

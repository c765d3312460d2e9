package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"plain", "https://www.linkedin.com/in/alice", "alice"},
		{"trailing slash", "https://www.linkedin.com/in/alice/", "alice"},
		{"sub page", "https://www.linkedin.com/in/bob-smith-42/details/experience/", "bob-smith-42"},
		{"query", "https://www.linkedin.com/in/carol?trk=feed", "carol"},
		{"escaped", "https://www.linkedin.com/in/j%C3%BCrgen/", "jürgen"},
		{"whitespace", "  https://site/in/dave  ", "dave"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PublicID(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublicIDRejectsNonProfileURLs(t *testing.T) {
	for _, u := range []string{
		"https://www.linkedin.com/company/acme",
		"https://www.linkedin.com/in/",
		"https://www.linkedin.com/",
		"not a url at all",
	} {
		_, err := PublicID(u)
		assert.Error(t, err, u)
	}
}

func TestPublicIDIsIdempotent(t *testing.T) {
	for _, u := range []string{
		"https://www.linkedin.com/in/alice/",
		"https://www.linkedin.com/in/j%C3%BCrgen",
		"https://www.linkedin.com/in/a.b-c_d/recent-activity/",
	} {
		id, err := PublicID(u)
		require.NoError(t, err)

		again, err := PublicID(URLFor("https://www.linkedin.com", id))
		require.NoError(t, err)
		assert.Equal(t, id, again)
	}
}

func TestAdvanceKeepsHappyPathMonotonic(t *testing.T) {
	p := &Profile{State: StateConnected}
	p.Advance(StatePending)
	assert.Equal(t, StateConnected, p.State)

	p.Advance(StateError)
	assert.Equal(t, StateError, p.State)

	p.Advance(StatePending)
	assert.Equal(t, StatePending, p.State)
}

func TestNew(t *testing.T) {
	p, err := New("https://site/in/alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.PublicID)
	assert.Equal(t, StateNew, p.State)

	_, err = New("https://site/company/x")
	assert.Error(t, err)
}

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Alice", (&Profile{FullName: "Alice  Liddell"}).FirstName())
	assert.Equal(t, "", (&Profile{}).FirstName())
}

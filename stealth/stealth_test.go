package stealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyURL(t *testing.T) {
	tests := []struct {
		url  string
		want SignalType
	}{
		{"https://www.linkedin.com/checkpoint/challenge/abc", SignalCaptcha},
		{"https://www.linkedin.com/checkpoint/lg/login-submit", SignalCheckpoint},
		{"https://www.linkedin.com/login?session_redirect=x", SignalSessionExpired},
		{"https://www.linkedin.com/authwall?trk=1", SignalCaptcha},
	}
	for _, tt := range tests {
		s := ClassifyURL(tt.url)
		require.NotNil(t, s, tt.url)
		assert.Equal(t, tt.want, s.Type, tt.url)
	}

	assert.Nil(t, ClassifyURL("https://www.linkedin.com/feed/"))
}

func TestClassifyText(t *testing.T) {
	s := ClassifyText("You've reached the weekly invitation limit")
	require.NotNil(t, s)
	assert.Equal(t, SignalWeeklyInviteLimit, s.Type)
	assert.True(t, s.Critical())

	s = ClassifyText("Unable to send invitation to this member")
	require.NotNil(t, s)
	assert.Equal(t, SignalCannotConnect, s.Type)
	assert.Equal(t, ActionSkip, s.Action)
	assert.False(t, s.Critical())

	s = ClassifyText("Something odd happened")
	require.NotNil(t, s)
	assert.Equal(t, SignalUnknown, s.Type)
	assert.Equal(t, "Something odd happened", s.Message)

	assert.Nil(t, ClassifyText("   "))
}

func TestBetween(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Between(10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Second, Between(5*time.Second, time.Second))
}

func TestNewPacerSwapsBounds(t *testing.T) {
	p := NewPacer(time.Second, 0)
	assert.Equal(t, time.Duration(0), p.Min)
	assert.Equal(t, time.Second, p.Max)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, Pacer{}.Wait(context.Background()))
}

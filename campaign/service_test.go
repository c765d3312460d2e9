package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Nehilsa2/linkedin_outreach/driver/drivertest"
	"github.com/Nehilsa2/linkedin_outreach/isolation"
	"github.com/Nehilsa2/linkedin_outreach/persistence"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/session"
)

func TestCheckStatusLive(t *testing.T) {
	h := newHarness(t)
	urls := []string{
		h.site.AddProfile("alice", drivertest.Page{Connected: true}),
		h.site.AddProfile("bob", drivertest.Page{Pending: true}),
		h.site.AddProfile("carol", drivertest.Page{Direct: true}),
		"https://site.test/jobs/123",
	}

	got, err := h.svc.CheckStatus(context.Background(), StatusRequest{Account: h.cookieAccount(t, 0), URLs: urls})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, profile.StateConnected, got[0].State)
	assert.Equal(t, profile.StatePending, got[1].State)
	assert.Equal(t, profile.StateNew, got[2].State)
	for _, st := range got[:3] {
		assert.True(t, st.Found, st.URL)
	}
	assert.Equal(t, profile.StateError, got[3].State)
	assert.NotEmpty(t, got[3].Message)

	assert.Zero(t, h.site.TotalInvites())
	h.assertClean(t)
}

func TestStoredStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	known := h.site.URL("alice")

	s := h.store(t, "sales")
	require.NoError(t, s.Upsert(ctx, profile.Profile{
		PublicID: "alice",
		URL:      known,
		State:    profile.StatePending,
		FullName: "Alice Smith",
	}))

	got, err := h.svc.StoredStatus(ctx, StoredStatusRequest{
		Handle: "sales",
		URLs:   []string{known, h.site.URL("ghost"), "not a url"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, got[0].Found)
	assert.Equal(t, profile.StatePending, got[0].State)
	assert.Equal(t, "Alice Smith", got[0].FullName)
	require.NotNil(t, got[0].LastUpdated)

	assert.False(t, got[1].Found)
	assert.Equal(t, profile.StateNotFound, got[1].State)
	assert.Equal(t, "Profile not found in database", got[1].Message)

	assert.Equal(t, profile.StateError, got[2].State)
	assert.Contains(t, got[2].Message, "Error: ")

	assert.Empty(t, h.site.Drivers(), "stored status must not open a browser")
}

func TestStoredStatusNeedsHandle(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.StoredStatus(context.Background(), StoredStatusRequest{URLs: []string{h.site.URL("alice")}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)
	acct := h.cookieAccount(t, 0)
	friend := h.site.AddProfile("alice", drivertest.Page{Connected: true, CanMessage: true, Name: "Alice Smith"})
	stranger := h.site.AddProfile("bob", drivertest.Page{Direct: true})

	res, err := h.svc.SendMessage(context.Background(), MessageRequest{Account: acct, URL: friend, Text: "Hello {name}"})
	require.NoError(t, err)
	assert.Equal(t, MessageResult{
		Success:  true,
		Status:   profile.MessageSent,
		PublicID: "alice",
		Message:  "Message sent",
	}, res)
	assert.Equal(t, []string{"Hello Alice Smith"}, h.site.Messages("alice"))

	res, err = h.svc.SendMessage(context.Background(), MessageRequest{Account: acct, URL: stranger, Text: "Hello"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, profile.MessageSkipped, res.Status)
	assert.Equal(t, "Profile not connected or message could not be sent", res.Message)

	s := h.store(t, "sales")
	got, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, got.MessagedAt)
	got, err = s.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, got.MessagedAt)
	h.assertClean(t)
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	acct := h.cookieAccount(t, 0)

	for name, req := range map[string]MessageRequest{
		"no account": {URL: h.site.URL("alice"), Text: "hi"},
		"no url":     {Account: acct, Text: "hi"},
		"no text":    {Account: acct, URL: h.site.URL("alice"), Text: "  "},
		"bad url":    {Account: acct, URL: "https://site.test/feed", Text: "hi"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.SendMessage(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSendMessageNavigationFailure(t *testing.T) {
	h := newHarness(t)
	url := h.site.AddProfile("alice", drivertest.Page{NavigateErr: errors.New("net::ERR_TIMED_OUT")})

	res, err := h.svc.SendMessage(context.Background(), MessageRequest{Account: h.cookieAccount(t, 0), URL: url, Text: "hi"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, profile.MessageError, res.Status)
	assert.Contains(t, res.Message, "Error: ")
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: []string{h.site.AddProfile("alice", drivertest.Page{Direct: true})},
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	var buf bytes.Buffer
	require.NoError(t, h.svc.Export(context.Background(), "sales", &buf))

	var snap persistence.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.Equal(t, "sales", snap.Handle)
	require.Len(t, snap.Profiles, 1)
	assert.Equal(t, profile.StatePending, snap.Profiles[0].State)
	require.Len(t, snap.Runs, 1)
	assert.Equal(t, res.CampaignID, snap.Runs[0].ID)
}

func TestClientOverThreadPool(t *testing.T) {
	h := newHarness(t)
	pool := isolation.NewThreadPool(2, NewHandler(h.svc), zaptest.NewLogger(t))
	defer pool.Close()
	c := NewClient(pool)
	ctx := context.Background()
	acct := h.cookieAccount(t, 0)
	url := h.site.AddProfile("alice", drivertest.Page{Direct: true})

	res, err := c.RunCampaign(ctx, RunRequest{Account: acct, Targets: []string{url}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Succeeded)

	stored, err := c.StoredStatus(ctx, StoredStatusRequest{Handle: "sales", URLs: []string{url}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, profile.StatePending, stored[0].State)

	live, err := c.CheckStatus(ctx, StatusRequest{Account: acct, URLs: []string{url}})
	require.NoError(t, err)
	assert.Equal(t, profile.StatePending, live[0].State)

	msg, err := c.SendMessage(ctx, MessageRequest{Account: acct, URL: url, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, profile.MessageSkipped, msg.Status)

	var buf bytes.Buffer
	require.NoError(t, c.Export(ctx, "sales", &buf))
	assert.Contains(t, buf.String(), `"alice"`)

	_, err = c.RunCampaign(ctx, RunRequest{Account: acct})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, CodeInvalidRequest, isolation.CodeOf(err))
}

// remoteExecutor answers every task with a fixed worker error, the way a
// process pool reports one.
type remoteExecutor struct {
	err   *isolation.RemoteError
	calls int
}

func (e *remoteExecutor) Submit(ctx context.Context, t isolation.Task) *isolation.Future {
	e.calls++
	pool := isolation.NewThreadPool(1, isolation.HandlerFunc(func(context.Context, isolation.Task) (json.RawMessage, error) {
		return nil, e.err
	}), zap.NewNop())
	defer pool.Close()
	return pool.Submit(ctx, t)
}

func (e *remoteExecutor) Close() error { return nil }

func TestClientRestoresSentinels(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{CodeInvalidRequest, ErrInvalidRequest},
		{CodeSessionBusy, session.ErrSessionBusy},
		{CodeUnavailable, session.ErrRegistryClosed},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := NewClient(&remoteExecutor{err: &isolation.RemoteError{Code: tt.code, Message: "from worker"}})
			_, err := c.StoredStatus(context.Background(), StoredStatusRequest{Handle: "sales", URLs: []string{"x"}})
			assert.ErrorIs(t, err, tt.want)
			assert.EqualError(t, err, "from worker")
		})
	}

	c := NewClient(&remoteExecutor{err: &isolation.RemoteError{Code: "panic", Message: "boom"}})
	_, err := c.StoredStatus(context.Background(), StoredStatusRequest{Handle: "sales"})
	var remote *isolation.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "panic", remote.Code)
}

// blockingExecutor holds every task until released.
type blockingExecutor struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (e *blockingExecutor) Submit(ctx context.Context, t isolation.Task) *isolation.Future {
	pool := isolation.NewThreadPool(1, isolation.HandlerFunc(func(context.Context, isolation.Task) (json.RawMessage, error) {
		e.once.Do(func() { close(e.started) })
		<-e.release
		return json.RawMessage(`{"success":true,"message":"done","total":1,"profiles_processed":1,"profiles_succeeded":1,"profiles_failed":0}`), nil
	}), zap.NewNop())
	f := pool.Submit(ctx, t)
	go func() {
		<-f.Done()
		pool.Close()
	}()
	return f
}

func (e *blockingExecutor) Close() error { return nil }

func TestClientRejectsSameKeyInFlight(t *testing.T) {
	h := newHarness(t)
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	c := NewClient(exec)
	req := RunRequest{Account: h.cookieAccount(t, 0), Targets: []string{h.site.URL("alice")}}

	done := make(chan error, 1)
	go func() {
		_, err := c.RunCampaign(context.Background(), req)
		done <- err
	}()
	<-exec.started

	_, err := c.RunCampaign(context.Background(), req)
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	close(exec.release)
	require.NoError(t, <-done)

	res, err := c.RunCampaign(context.Background(), req)
	require.NoError(t, err, "key is free again once the first run returned")
	assert.True(t, res.Success)
}

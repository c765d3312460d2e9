package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/actions"
	"github.com/Nehilsa2/linkedin_outreach/auth"
	"github.com/Nehilsa2/linkedin_outreach/driver/drivertest"
	"github.com/Nehilsa2/linkedin_outreach/persistence"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/quota"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	site     *drivertest.Site
	registry *session.Registry
	svc      *Service
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	site := drivertest.NewSite()
	registry := session.NewRegistry(site.Factory(), log)
	t.Cleanup(func() { registry.Shutdown() })

	dir := t.TempDir()
	l := NewLauncher(Config{
		DataDir:    dir,
		Pacer:      stealth.Pacer{},
		MaxTargets: 100,
	}, registry, auth.New(site.BaseURL, "", log), actions.New(log, stealth.Pacer{}), log)

	return &harness{site: site, registry: registry, svc: NewService(l), dir: dir}
}

// cookieAccount signs in with the site's valid session cookie.
func (h *harness) cookieAccount(t *testing.T, connections int) account.Account {
	t.Helper()
	acct, err := account.NewBuilder().
		WithHandle("sales").
		WithCookies([]account.Cookie{{Name: "li_at", Value: h.site.ValidCookie}}).
		WithQuotas(connections, 0).
		Build()
	require.NoError(t, err)
	return acct
}

func (h *harness) store(t *testing.T, handle string) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(context.Background(), h.dir, handle)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (h *harness) assertClean(t *testing.T) {
	t.Helper()
	assert.Zero(t, h.registry.Len(), "sessions left in registry")
	assert.Zero(t, h.site.Live(), "browsers left open")
}

func TestRunConnectsInOrder(t *testing.T) {
	h := newHarness(t)
	alice := h.site.AddProfile("alice", drivertest.Page{Direct: true, Name: "Alice Smith", Headline: "Explorer"})
	bob := h.site.AddProfile("bob", drivertest.Page{Overflow: true, Name: "Bob Jones"})

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: []string{alice, bob},
	})
	require.NoError(t, err)

	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "Campaign 'connect_follow_up' completed successfully", res.Message)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.NotEmpty(t, res.CampaignID)

	want := []ProfileOutcome{
		{URL: alice, PublicID: "alice", State: profile.StatePending},
		{URL: bob, PublicID: "bob", State: profile.StatePending},
	}
	if diff := cmp.Diff(want, res.Profiles); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{""}, h.site.Invites("alice"))
	assert.Equal(t, []string{""}, h.site.Invites("bob"))

	s := h.store(t, "sales")
	got, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, profile.StatePending, got.State)
	assert.Equal(t, "Alice Smith", got.FullName)
	assert.Equal(t, "Explorer", got.Headline)

	run, err := s.GetRun(context.Background(), res.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Processed)
	assert.NotNil(t, run.FinishedAt)

	h.assertClean(t)
}

func TestRunStopsAtConnectionLimit(t *testing.T) {
	h := newHarness(t)
	urls := []string{
		h.site.AddProfile("p1", drivertest.Page{Direct: true}),
		h.site.AddProfile("p2", drivertest.Page{Direct: true, LimitAfterSend: true}),
		h.site.AddProfile("p3", drivertest.Page{Direct: true}),
		h.site.AddProfile("p4", drivertest.Page{Direct: true}),
	}

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: urls,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Stopped)
	assert.Contains(t, res.StopReason, "weekly invitation limit")
	assert.Equal(t, 1, res.Processed)
	assert.Len(t, res.Profiles, 1)
	assert.Empty(t, h.site.Invites("p3"))
	assert.Empty(t, h.site.Invites("p4"))

	s := h.store(t, "sales")
	ctx := context.Background()
	for id, want := range map[string]profile.State{
		"p1": profile.StatePending,
		"p2": profile.StateNotFound,
		"p3": profile.StateNotFound,
		"p4": profile.StateNotFound,
	} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.State, id)
	}

	sent, err := s.CountActionsSince(ctx, quota.Connection, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "the invite that tripped the limit still counts")

	_, limited, err := s.LastLimit(ctx, quota.Connection)
	require.NoError(t, err)
	assert.True(t, limited)

	run, err := s.GetRun(ctx, res.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStopped, run.Status)
	h.assertClean(t)
}

func TestLimitHaltsOtherCampaignsOfTheAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.svc.RunCampaign(ctx, RunRequest{
		Account:      h.cookieAccount(t, 0),
		CampaignName: "q3",
		Targets:      []string{h.site.AddProfile("p1", drivertest.Page{Direct: true, LimitAfterSend: true})},
	})
	require.NoError(t, err)
	require.True(t, first.Stopped)

	second, err := h.svc.RunCampaign(ctx, RunRequest{
		Account:      h.cookieAccount(t, 0),
		CampaignName: "q4",
		Targets:      []string{h.site.AddProfile("p2", drivertest.Page{Direct: true})},
	})
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.Stopped)
	assert.Contains(t, second.StopReason, "account halted after limit signal")
	assert.Zero(t, second.Processed)
	assert.Empty(t, h.site.Invites("p2"))
	h.assertClean(t)
}

func TestRunNoteFallsBackToPlainInvite(t *testing.T) {
	h := newHarness(t)
	blocked := h.site.AddProfile("alice", drivertest.Page{Direct: true, Name: "Alice Smith", NoteBlocked: true})
	open := h.site.AddProfile("bob", drivertest.Page{Direct: true, Name: "Bob Jones"})

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: []string{blocked, open},
		Note:    "Hi {first_name}, great to meet you",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{""}, h.site.Invites("alice"))
	assert.Equal(t, []string{"Hi Bob, great to meet you"}, h.site.Invites("bob"))
}

func TestRunResumesSettledProfiles(t *testing.T) {
	h := newHarness(t)
	acct := h.cookieAccount(t, 0)
	urls := []string{
		h.site.AddProfile("alice", drivertest.Page{Direct: true}),
		h.site.AddProfile("bob", drivertest.Page{Connected: true}),
	}

	first, err := h.svc.RunCampaign(context.Background(), RunRequest{Account: acct, Targets: urls})
	require.NoError(t, err)
	require.Equal(t, 2, first.Succeeded)

	second, err := h.svc.RunCampaign(context.Background(), RunRequest{Account: acct, Targets: urls})
	require.NoError(t, err)

	assert.NotEqual(t, first.CampaignID, second.CampaignID)
	assert.Equal(t, 2, second.Processed)
	assert.Equal(t, 2, second.Succeeded)
	want := []ProfileOutcome{
		{URL: urls[0], PublicID: "alice", State: profile.StatePending, Resumed: true},
		{URL: urls[1], PublicID: "bob", State: profile.StateConnected, Resumed: true},
	}
	if diff := cmp.Diff(want, second.Profiles); diff != "" {
		t.Errorf("resumed profiles mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, h.site.TotalInvites())
}

func TestRunStopsWhenQuotaSpent(t *testing.T) {
	h := newHarness(t)
	urls := []string{
		h.site.AddProfile("alice", drivertest.Page{Direct: true}),
		h.site.AddProfile("bob", drivertest.Page{Direct: true}),
	}

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 1),
		Targets: urls,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Stopped)
	assert.Contains(t, res.StopReason, "daily quota exhausted")
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, h.site.Invites("bob"))
}

func TestRunRecordsProfileFailuresAndContinues(t *testing.T) {
	h := newHarness(t)
	urls := []string{
		h.site.BaseURL + "/company/acme",
		h.site.AddProfile("broken", drivertest.Page{NavigateErr: errors.New("net::ERR_CONNECTION_RESET")}),
		h.site.AddProfile("toast", drivertest.Page{Direct: true, ErrorToast: "Unable to send invitation"}),
		h.site.AddProfile("ok", drivertest.Page{Direct: true}),
	}

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: urls,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 1, res.Succeeded)

	states := make([]profile.State, 0, len(res.Profiles))
	for _, p := range res.Profiles {
		states = append(states, p.State)
	}
	assert.Equal(t, []profile.State{
		profile.StateError, profile.StateError, profile.StateSkipped, profile.StatePending,
	}, states)

	s := h.store(t, "sales")
	got, err := s.Get(context.Background(), "toast")
	require.NoError(t, err)
	assert.Equal(t, profile.StateSkipped, got.State)
	got, err = s.Get(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, profile.StateError, got.State)
}

func TestRunEndsOnRestrictedAccount(t *testing.T) {
	h := newHarness(t)
	urls := []string{
		h.site.AddProfile("alice", drivertest.Page{Direct: true}),
		h.site.AddProfile("bob", drivertest.Page{Direct: true, ErrorToast: "Your account has been restricted"}),
		h.site.AddProfile("carol", drivertest.Page{Direct: true}),
	}

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: urls,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, string(stealth.SignalAccountRestricted))
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, h.site.Invites("carol"))

	got, err := h.store(t, "sales").Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, profile.StateNotFound, got.State)
	h.assertClean(t)
}

func TestRunAuthFailure(t *testing.T) {
	h := newHarness(t)
	acct, err := account.NewBuilder().
		WithHandle("sales").
		WithCookies([]account.Cookie{{Name: "li_at", Value: "expired"}}).
		Build()
	require.NoError(t, err)

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{
		Account: acct,
		Targets: []string{h.site.AddProfile("alice", drivertest.Page{Direct: true})},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Zero(t, res.Processed)
	assert.Contains(t, res.Message, "Campaign failed")
	assert.Empty(t, h.site.Invites("alice"))

	run, err := h.store(t, "sales").GetRun(context.Background(), res.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunFailed, run.Status)
	assert.Contains(t, run.Error, auth.ErrNotAuthenticated.Error())
	h.assertClean(t)
}

func TestRunRejectsBusySession(t *testing.T) {
	h := newHarness(t)
	acct := h.cookieAccount(t, 0)
	targets := []string{h.site.AddProfile("alice", drivertest.Page{Direct: true})}

	key := session.NewKey(acct.Handle(), DefaultCampaignName, targets)
	_, release, err := h.registry.Lease(context.Background(), key, acct)
	require.NoError(t, err)

	_, err = h.svc.RunCampaign(context.Background(), RunRequest{Account: acct, Targets: targets})
	assert.ErrorIs(t, err, session.ErrSessionBusy)
	assert.Empty(t, h.site.Invites("alice"))

	release()
	require.NoError(t, h.registry.Close(key))

	res, err := h.svc.RunCampaign(context.Background(), RunRequest{Account: acct, Targets: targets})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRunValidation(t *testing.T) {
	h := newHarness(t)
	acct := h.cookieAccount(t, 0)
	many := make([]string, 101)
	for i := range many {
		many[i] = h.site.URL("p")
	}

	tests := []struct {
		name string
		req  RunRequest
		want string
	}{
		{"no targets", RunRequest{Account: acct}, "No URLs provided. Please provide at least one LinkedIn profile URL."},
		{"too many", RunRequest{Account: acct, Targets: many}, "Too many URLs. Maximum 100 profiles per request."},
		{"message without text", RunRequest{Account: acct, Targets: many[:1], Mode: ModeMessage}, "message text is required"},
		{"unknown mode", RunRequest{Account: acct, Targets: many[:1], Mode: "follow"}, `unknown mode "follow"`},
		{"no account", RunRequest{Targets: many[:1]}, "account is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.svc.RunCampaign(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, res.Success)
		})
	}
	assert.Empty(t, h.site.Drivers())
}

func TestRunMessageMode(t *testing.T) {
	h := newHarness(t)
	acct := h.cookieAccount(t, 0)
	urls := []string{
		h.site.AddProfile("alice", drivertest.Page{Connected: true, CanMessage: true, Name: "Alice Smith"}),
		h.site.AddProfile("bob", drivertest.Page{Direct: true, Name: "Bob Jones"}),
	}
	req := RunRequest{Account: acct, Targets: urls, Mode: ModeMessage, Message: "Thanks for connecting, {first_name}!"}

	res, err := h.svc.RunCampaign(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, profile.MessageSent, res.Profiles[0].Message)
	assert.Equal(t, profile.MessageSkipped, res.Profiles[1].Message)
	assert.Equal(t, []string{"Thanks for connecting, Alice!"}, h.site.Messages("alice"))
	assert.Empty(t, h.site.Messages("bob"))

	s := h.store(t, "sales")
	got, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, profile.StateConnected, got.State)
	require.NotNil(t, got.MessagedAt)

	again, err := h.svc.RunCampaign(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Profiles[0].Resumed)
	assert.Len(t, h.site.Messages("alice"), 1)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.svc.RunCampaign(ctx, RunRequest{
		Account: h.cookieAccount(t, 0),
		Targets: []string{h.site.AddProfile("alice", drivertest.Page{Direct: true})},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.Processed)
	assert.Contains(t, res.Message, context.Canceled.Error())
	assert.Empty(t, h.site.Invites("alice"))
	h.assertClean(t)
}

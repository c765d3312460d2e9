// Package campaign runs outreach campaigns: it leases a session for an
// account, signs it in, walks the target list in order and records every
// profile's outcome in the account's profile store.
package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/actions"
	"github.com/Nehilsa2/linkedin_outreach/persistence"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/quota"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

// Config tunes a Launcher.
type Config struct {
	// DataDir holds one profile store per account.
	DataDir string
	// Pacer spaces consecutive profiles.
	Pacer stealth.Pacer
	// Policy tunes the quota guard.
	Policy quota.Policy
	// MaxTargets caps a request's target list; zero means no cap.
	MaxTargets int
}

// Launcher executes campaign runs.
type Launcher struct {
	cfg      Config
	registry *session.Registry
	auth     session.Authenticator
	actor    *actions.Actor
	log      *zap.Logger
}

func NewLauncher(cfg Config, registry *session.Registry, auth session.Authenticator, actor *actions.Actor, log *zap.Logger) *Launcher {
	return &Launcher{
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		actor:    actor,
		log:      log.Named("campaign"),
	}
}

// errStopped ends the target loop early without failing the run.
type errStopped struct{ reason string }

func (e *errStopped) Error() string { return e.reason }

// Run executes req. The returned error is non-nil only when the request
// was rejected before any work started (invalid input, busy session);
// every other outcome, including a failed setup, is described by the
// Result.
func (l *Launcher) Run(ctx context.Context, req RunRequest) (Result, error) {
	if err := req.Normalize(l.cfg.MaxTargets); err != nil {
		return Result{Message: err.Error()}, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	key := session.NewKey(req.Account.Handle(), req.CampaignName, req.Targets)
	log := l.log.With(
		zap.String("run", req.RunID),
		zap.Stringer("session", key),
		zap.String("mode", string(req.Mode)))

	res := Result{
		CampaignID:   req.RunID,
		CampaignName: req.CampaignName,
		Mode:         req.Mode,
		Total:        len(req.Targets),
	}

	store, err := persistence.Open(ctx, l.cfg.DataDir, req.Account.Handle())
	if err != nil {
		log.Error("profile store unavailable", zap.Error(err))
		res.Message = fmt.Sprintf("Campaign failed: %v", err)
		return res, nil
	}
	defer store.Close()

	run := &persistence.Run{
		ID:         req.RunID,
		Campaign:   req.CampaignName,
		SessionKey: key.String(),
		Mode:       string(req.Mode),
		Total:      len(req.Targets),
	}
	if err := store.StartRun(ctx, run); err != nil {
		log.Warn("could not record run start", zap.Error(err))
	}

	log.Info("campaign starting", zap.Int("targets", len(req.Targets)))
	runErr := l.execute(ctx, store, key, req, &res, log)
	l.finish(ctx, store, run, &res, runErr, log)

	if errors.Is(runErr, session.ErrSessionBusy) || errors.Is(runErr, session.ErrRegistryClosed) {
		return res, runErr
	}
	return res, nil
}

// execute owns the session lease. The session is closed on every exit path
// once the lease was granted, panics included.
func (l *Launcher) execute(ctx context.Context, store *persistence.Store, key session.Key, req RunRequest, res *Result, log *zap.Logger) (err error) {
	sess, release, err := l.registry.Lease(ctx, key, req.Account)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.registry.CloseSession(sess); cerr != nil {
			log.Warn("session cleanup failed", zap.Error(cerr))
		}
		release()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("campaign panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := sess.EnsureAuthenticated(ctx, l.auth); err != nil {
		return fmt.Errorf("authenticate %s: %w", req.Account.Handle(), err)
	}

	guard := quota.NewGuard(store, req.Account, l.cfg.Policy)
	w := &walker{
		l:     l,
		sess:  sess,
		store: store,
		guard: guard,
		req:   req,
		res:   res,
		log:   log,
	}
	return w.walk(ctx)
}

func (l *Launcher) finish(ctx context.Context, store *persistence.Store, run *persistence.Run, res *Result, runErr error, log *zap.Logger) {
	var stop *errStopped
	switch {
	case runErr == nil:
		res.Success = true
		res.Message = fmt.Sprintf("Campaign '%s' completed successfully", res.CampaignName)
		run.Status = persistence.RunCompleted
	case errors.As(runErr, &stop):
		res.Success = true
		res.Stopped = true
		res.StopReason = stop.reason
		res.Message = fmt.Sprintf("Campaign '%s' stopped after %d profiles: %s", res.CampaignName, res.Processed, stop.reason)
		run.Status = persistence.RunStopped
		run.StopReason = stop.reason
	default:
		res.Success = false
		res.Message = fmt.Sprintf("Campaign failed: %v", runErr)
		run.Status = persistence.RunFailed
		run.Error = runErr.Error()
	}
	run.Processed, run.Succeeded, run.Failed = res.Processed, res.Succeeded, res.Failed

	if err := store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("could not record run result", zap.Error(err))
	}
	log.Info("campaign finished",
		zap.Bool("success", res.Success),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.String("stop_reason", res.StopReason))
}

// walker processes one run's targets in order.
type walker struct {
	l       *Launcher
	sess    *session.Session
	store   *persistence.Store
	guard   *quota.Guard
	req     RunRequest
	res     *Result
	log     *zap.Logger
	touched bool
}

func (w *walker) walk(ctx context.Context) error {
	for _, raw := range w.req.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := w.one(ctx, raw)
		if err != nil {
			return err
		}
		w.res.Processed++
		switch {
		case out.Error != "":
			w.res.Failed++
		case succeeded(w.req.Mode, out):
			w.res.Succeeded++
		}
		w.res.Profiles = append(w.res.Profiles, out)
	}
	return nil
}

func succeeded(mode Mode, out ProfileOutcome) bool {
	if mode == ModeMessage {
		return out.Message == profile.MessageSent
	}
	return out.State.Settled()
}

// one processes a single target. A returned error ends the run; the
// target then counts as not processed and is not stored.
func (w *walker) one(ctx context.Context, raw string) (ProfileOutcome, error) {
	out := ProfileOutcome{URL: raw}

	p, err := profile.New(raw)
	if err != nil {
		out.State, out.Error = profile.StateError, err.Error()
		w.log.Warn("invalid target", zap.String("url", raw), zap.Error(err))
		return out, nil
	}
	out.PublicID = p.PublicID

	stored, err := w.store.Get(ctx, p.PublicID)
	if err != nil {
		return out, fmt.Errorf("load %s: %w", p.PublicID, err)
	}
	if w.resumable(stored) {
		out.State, out.Resumed = stored.State, true
		if stored.MessagedAt != nil {
			out.Message = profile.MessageSent
		}
		w.log.Debug("already done, skipping", zap.String("profile", p.PublicID), zap.String("state", string(stored.State)))
		return out, nil
	}
	if stored.State != profile.StateNotFound {
		p.State, p.FullName, p.Headline = stored.State, stored.FullName, stored.Headline
	}

	kind := quota.Connection
	if w.req.Mode == ModeMessage {
		kind = quota.Message
	}
	resv, err := w.guard.Reserve(ctx, kind, p.PublicID)
	if err != nil {
		if quota.Stopping(err) {
			return out, &errStopped{reason: err.Error()}
		}
		return out, err
	}
	defer func() {
		if rerr := resv.Release(context.WithoutCancel(ctx)); rerr != nil {
			w.log.Warn("could not release quota reservation", zap.Error(rerr))
		}
	}()

	if w.touched {
		if err := w.l.cfg.Pacer.Wait(ctx); err != nil {
			return out, err
		}
	}
	w.touched = true

	if w.req.Mode == ModeMessage {
		return w.message(ctx, p, out, resv)
	}
	return w.connect(ctx, p, out, resv)
}

func (w *walker) resumable(stored profile.Profile) bool {
	if w.req.Mode == ModeMessage {
		return stored.MessagedAt != nil
	}
	return stored.State.Settled()
}

func (w *walker) connect(ctx context.Context, p *profile.Profile, out ProfileOutcome, resv *quota.Reservation) (ProfileOutcome, error) {
	res, err := w.l.actor.Connect(ctx, w.sess, p, w.req.Note)
	if res.Sent {
		resv.Keep()
	}

	if sig := limitSignal(err, stealth.SignalWeeklyInviteLimit); sig != nil {
		return out, w.halt(ctx, quota.Connection, sig)
	}

	if err != nil {
		return w.failed(ctx, p, out, err)
	}
	out.State = p.State
	return out, w.save(ctx, p)
}

func (w *walker) message(ctx context.Context, p *profile.Profile, out ProfileOutcome, resv *quota.Reservation) (ProfileOutcome, error) {
	status, err := w.l.actor.SendMessage(ctx, w.sess, p, w.req.Message)
	out.Message = status

	if sig := limitSignal(err, stealth.SignalMessageLimit); sig != nil {
		return out, w.halt(ctx, quota.Message, sig)
	}
	if err != nil {
		return w.failed(ctx, p, out, err)
	}

	out.State = p.State
	if status != profile.MessageSent {
		return out, w.save(ctx, p)
	}
	resv.Keep()
	if err := w.store.SaveMessaged(ctx, *p, nowFunc()); err != nil {
		return out, fmt.Errorf("store %s: %w", p.PublicID, err)
	}
	return out, nil
}

// halt stops the account for kind and ends the run without failing it.
func (w *walker) halt(ctx context.Context, kind quota.Kind, sig *stealth.Signal) error {
	if err := w.guard.Halt(ctx, kind, sig.Message); err != nil {
		w.log.Warn("could not record limit", zap.Error(err))
	}
	return &errStopped{reason: sig.Message}
}

// failed records a per-profile failure and keeps going, unless the failure
// shows the session itself is no longer usable.
func (w *walker) failed(ctx context.Context, p *profile.Profile, out ProfileOutcome, err error) (ProfileOutcome, error) {
	if sig := criticalSignal(err); sig != nil {
		return out, fmt.Errorf("session unusable at %s: %w", p.PublicID, sig)
	}

	var skip *actions.SkipProfileError
	if errors.As(err, &skip) {
		if w.req.Mode == ModeConnect {
			p.Advance(profile.StateSkipped)
		}
		w.log.Info("profile skipped", zap.String("profile", p.PublicID), zap.String("reason", skip.Reason))
	} else {
		p.Advance(profile.StateError)
		w.log.Warn("profile failed", zap.String("profile", p.PublicID), zap.Error(err))
	}

	out.State, out.Error = p.State, err.Error()
	return out, w.save(ctx, p)
}

func (w *walker) save(ctx context.Context, p *profile.Profile) error {
	if err := w.store.Upsert(ctx, *p); err != nil {
		return fmt.Errorf("store %s: %w", p.PublicID, err)
	}
	return nil
}

// criticalSignal returns the account-wide signal behind err, if any.
func criticalSignal(err error) *stealth.Signal {
	var (
		skip *actions.SkipProfileError
		sig  *stealth.Signal
	)
	switch {
	case errors.As(err, &skip) && skip.Signal != nil && skip.Signal.Critical():
		return skip.Signal
	case errors.As(err, &sig) && sig.Critical():
		return sig
	}
	return nil
}

// limitSignal returns the site limit of type t reported by err, if any.
func limitSignal(err error, t stealth.SignalType) *stealth.Signal {
	var (
		limit *actions.ReachedConnectionLimitError
		skip  *actions.SkipProfileError
	)
	switch {
	case errors.As(err, &limit):
		return limit.Signal
	case errors.As(err, &skip) && skip.Signal != nil && skip.Signal.Type == t:
		return skip.Signal
	}
	return nil
}

package campaign

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/persistence"
	"github.com/Nehilsa2/linkedin_outreach/profile"
	"github.com/Nehilsa2/linkedin_outreach/quota"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

var nowFunc = time.Now

// Service is the set of operations the request layer exposes.
type Service struct {
	*Launcher
}

func NewService(l *Launcher) *Service {
	return &Service{Launcher: l}
}

// RunCampaign runs a campaign. See Launcher.Run.
func (s *Service) RunCampaign(ctx context.Context, req RunRequest) (Result, error) {
	return s.Run(ctx, req)
}

// withSession leases a dedicated session for a single-shot operation, signs
// it in and closes it afterwards.
func (s *Service) withSession(ctx context.Context, acct account.Account, campaign string, targets []string, fn func(*session.Session) error) error {
	if acct.Handle() == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidRequest)
	}
	key := session.NewKey(acct.Handle(), campaign, targets)
	sess, release, err := s.registry.Lease(ctx, key, acct)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.registry.CloseSession(sess); cerr != nil {
			s.log.Warn("session cleanup failed", zap.Stringer("session", key), zap.Error(cerr))
		}
		release()
	}()

	if err := sess.EnsureAuthenticated(ctx, s.auth); err != nil {
		return fmt.Errorf("authenticate %s: %w", acct.Handle(), err)
	}
	return fn(sess)
}

// CheckStatus navigates to every URL and reports the live relationship
// state. A failure on one profile is reported in its entry; the others are
// still checked.
func (s *Service) CheckStatus(ctx context.Context, req StatusRequest) ([]ProfileStatus, error) {
	if err := validateTargets(req.URLs, s.cfg.MaxTargets); err != nil {
		return nil, err
	}

	out := make([]ProfileStatus, 0, len(req.URLs))
	err := s.withSession(ctx, req.Account, statusCampaign, req.URLs, func(sess *session.Session) error {
		for _, raw := range req.URLs {
			if err := ctx.Err(); err != nil {
				return err
			}
			st := ProfileStatus{URL: raw, State: profile.StateError}

			p, err := profile.New(raw)
			if err != nil {
				st.Message = err.Error()
				out = append(out, st)
				continue
			}
			st.PublicID = p.PublicID

			state, err := s.actor.CheckStatus(ctx, sess, p)
			if err != nil {
				s.log.Warn("status check failed", zap.String("profile", p.PublicID), zap.Error(err))
				st.Message = err.Error()
				out = append(out, st)
				continue
			}
			st.State, st.Found = state, true
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StoredStatus reports what the account's profile store knows about each
// URL without touching the site.
func (s *Service) StoredStatus(ctx context.Context, req StoredStatusRequest) ([]ProfileStatus, error) {
	if strings.TrimSpace(req.Handle) == "" {
		return nil, fmt.Errorf("%w: an account handle is required", ErrInvalidRequest)
	}
	if err := validateTargets(req.URLs, s.cfg.MaxTargets); err != nil {
		return nil, err
	}

	out := make([]ProfileStatus, 0, len(req.URLs))
	store, err := persistence.Open(ctx, s.cfg.DataDir, req.Handle)
	if err != nil {
		s.log.Error("profile store unavailable", zap.String("account", req.Handle), zap.Error(err))
		for _, raw := range req.URLs {
			out = append(out, ProfileStatus{URL: raw, State: profile.StateError, Message: "Error: " + err.Error()})
		}
		return out, nil
	}
	defer store.Close()

	for _, raw := range req.URLs {
		out = append(out, storedStatus(ctx, store, raw))
	}
	return out, nil
}

func storedStatus(ctx context.Context, store *persistence.Store, raw string) ProfileStatus {
	st := ProfileStatus{URL: raw, State: profile.StateError}
	id, err := profile.PublicID(raw)
	if err != nil {
		st.Message = "Error: " + err.Error()
		return st
	}
	st.PublicID = id

	p, err := store.Get(ctx, id)
	if err != nil {
		st.Message = "Error: " + err.Error()
		return st
	}
	st.State = p.State
	if p.State == profile.StateNotFound {
		st.Message = "Profile not found in database"
		return st
	}

	updated := p.UpdatedAt
	st.Found = true
	st.FullName, st.Headline, st.LastUpdated = p.FullName, p.Headline, &updated
	return st
}

// SendMessage messages one profile. Setup failures are errors; everything
// after sign-in is described by the result.
func (s *Service) SendMessage(ctx context.Context, req MessageRequest) (MessageResult, error) {
	if req.Account.Handle() == "" {
		return MessageResult{}, fmt.Errorf("%w: account is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.URL) == "" {
		return MessageResult{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return MessageResult{}, fmt.Errorf("%w: message text is required", ErrInvalidRequest)
	}
	p, err := profile.New(req.URL)
	if err != nil {
		return MessageResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	res := MessageResult{PublicID: p.PublicID, Status: profile.MessageError}

	store, err := persistence.Open(ctx, s.cfg.DataDir, req.Account.Handle())
	if err != nil {
		return res, err
	}
	defer store.Close()

	stored, err := store.Get(ctx, p.PublicID)
	if err != nil {
		return res, err
	}
	if stored.State != profile.StateNotFound {
		p.State, p.FullName, p.Headline = stored.State, stored.FullName, stored.Headline
	}

	guard := quota.NewGuard(store, req.Account, s.cfg.Policy)
	resv, err := guard.Reserve(ctx, quota.Message, p.PublicID)
	if err != nil {
		if !quota.Stopping(err) {
			return res, err
		}
		res.Status, res.Message = profile.MessageSkipped, err.Error()
		return res, nil
	}
	defer func() {
		if rerr := resv.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Warn("could not release quota reservation", zap.Error(rerr))
		}
	}()

	err = s.withSession(ctx, req.Account, messageCampaign, []string{req.URL}, func(sess *session.Session) error {
		status, err := s.actor.SendMessage(ctx, sess, p, req.Text)
		res.Status = status
		if err != nil {
			if sig := limitSignal(err, stealth.SignalMessageLimit); sig != nil {
				if herr := guard.Halt(ctx, quota.Message, sig.Message); herr != nil {
					s.log.Warn("could not record limit", zap.Error(herr))
				}
			}
			res.Message = "Error: " + err.Error()
			return nil
		}
		if status != profile.MessageSent {
			res.Message = "Profile not connected or message could not be sent"
			return store.Upsert(ctx, *p)
		}

		res.Success, res.Message = true, "Message sent"
		resv.Keep()
		return store.SaveMessaged(ctx, *p, nowFunc())
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// Export writes the account's profile store as JSON to w.
func (s *Service) Export(ctx context.Context, handle string, w io.Writer) error {
	store, err := persistence.Open(ctx, s.cfg.DataDir, handle)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Export(ctx, w)
}

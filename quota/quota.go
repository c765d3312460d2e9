// Package quota enforces an account's daily action budget over a rolling
// window and halts an account the moment the site reports a limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/account"
)

// Kind is a quota-consuming action.
type Kind string

const (
	Connection Kind = "connection"
	Message    Kind = "message"
)

var (
	// ErrQuotaExhausted means the rolling-window budget is spent.
	ErrQuotaExhausted = errors.New("daily quota exhausted")
	// ErrHalted means the site reported a limit for the account within the
	// current window.
	ErrHalted = errors.New("account halted after limit signal")
	// ErrLimitCooldown means a previously recorded limit is still cooling down.
	ErrLimitCooldown = errors.New("account is cooling down after a limit")
)

// Slot asks the ledger to book one action at At, provided fewer than Max
// actions of Kind happened since Since and no limit of Kind was detected
// since HaltedSince.
type Slot struct {
	Kind        Kind
	PublicID    string
	At          time.Time
	Since       time.Time
	Max         int
	HaltedSince time.Time
}

// Ledger is the durable record of performed actions and detected limits,
// shared by every run of an account.
type Ledger interface {
	CountActionsSince(ctx context.Context, kind Kind, since time.Time) (int, error)
	// ReserveAction books slot atomically with its checks. ok is false when
	// the slot was refused.
	ReserveAction(ctx context.Context, slot Slot) (id int64, ok bool, err error)
	ReleaseAction(ctx context.Context, id int64) error
	RecordLimit(ctx context.Context, kind Kind, reason string, at time.Time) error
	LastLimit(ctx context.Context, kind Kind) (time.Time, bool, error)
}

// Policy tunes a Guard.
type Policy struct {
	// Window is the rolling period quotas apply to. Zero means 24h. A
	// detected limit halts the account for the rest of the window.
	Window time.Duration
	// HonorCooldown keeps the account halted until Cooldown has passed
	// since the limit, when that is longer than Window.
	HonorCooldown bool
	Cooldown      time.Duration
}

// Guard checks and books quota use for one account. Guards of concurrent
// runs share state through the ledger only.
type Guard struct {
	ledger Ledger
	limits map[Kind]int
	policy Policy
	now    func() time.Time

	mu     sync.Mutex
	halted map[Kind]string
}

func NewGuard(ledger Ledger, acct account.Account, policy Policy) *Guard {
	if policy.Window <= 0 {
		policy.Window = 24 * time.Hour
	}
	return &Guard{
		ledger: ledger,
		limits: map[Kind]int{
			Connection: acct.DailyConnections(),
			Message:    acct.DailyMessages(),
		},
		policy: policy,
		now:    time.Now,
		halted: make(map[Kind]string),
	}
}

// WithClock replaces the time source; used by tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Allow reports whether one more action of kind may be performed. It is a
// read-only check; Reserve is what books the action.
func (g *Guard) Allow(ctx context.Context, kind Kind) error {
	g.mu.Lock()
	reason, halted := g.halted[kind]
	g.mu.Unlock()
	if halted {
		return fmt.Errorf("%w: %s", ErrHalted, reason)
	}

	last, ok, err := g.ledger.LastLimit(ctx, kind)
	if err != nil {
		return fmt.Errorf("read last limit: %w", err)
	}
	if ok {
		now := g.now()
		if g.policy.HonorCooldown {
			if until := last.Add(g.policy.Cooldown); now.Before(until) {
				return fmt.Errorf("%w: %s until %s", ErrLimitCooldown, kind, until.Format(time.RFC3339))
			}
		}
		if now.Before(last.Add(g.policy.Window)) {
			return fmt.Errorf("%w: %s limit reported at %s", ErrHalted, kind, last.Format(time.RFC3339))
		}
	}

	remaining, err := g.Remaining(ctx, kind)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		return g.exhausted(kind)
	}
	return nil
}

func (g *Guard) exhausted(kind Kind) error {
	return fmt.Errorf("%w: %s limit %d per %s", ErrQuotaExhausted, kind, g.limits[kind], g.policy.Window)
}

// Remaining returns how many actions of kind are left in the window.
func (g *Guard) Remaining(ctx context.Context, kind Kind) (int, error) {
	used, err := g.ledger.CountActionsSince(ctx, kind, g.now().Add(-g.policy.Window))
	if err != nil {
		return 0, fmt.Errorf("count %s actions: %w", kind, err)
	}
	left := g.limits[kind] - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// haltedSince is the earliest limit detection that still blocks kind.
func (g *Guard) haltedSince(now time.Time) time.Time {
	span := g.policy.Window
	if g.policy.HonorCooldown && g.policy.Cooldown > span {
		span = g.policy.Cooldown
	}
	return now.Add(-span)
}

// Reserve books one action of kind for publicID before it is attempted.
// The check and the booking are a single ledger write, so concurrent runs of
// the same account cannot overrun the quota. Keep the reservation when the
// action reached the site; Release it otherwise.
func (g *Guard) Reserve(ctx context.Context, kind Kind, publicID string) (*Reservation, error) {
	if err := g.Allow(ctx, kind); err != nil {
		return nil, err
	}

	now := g.now()
	id, ok, err := g.ledger.ReserveAction(ctx, Slot{
		Kind:        kind,
		PublicID:    publicID,
		At:          now,
		Since:       now.Add(-g.policy.Window),
		Max:         g.limits[kind],
		HaltedSince: g.haltedSince(now),
	})
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", kind, err)
	}
	if !ok {
		// Another run took the last slot or reported a limit in between.
		if err := g.Allow(ctx, kind); err != nil {
			return nil, err
		}
		return nil, g.exhausted(kind)
	}
	return &Reservation{ledger: g.ledger, id: id}, nil
}

// Halt stops every further action of kind for the account. The limit is
// persisted, so guards of other runs refuse kind from their next check on.
func (g *Guard) Halt(ctx context.Context, kind Kind, reason string) error {
	g.mu.Lock()
	g.halted[kind] = reason
	g.mu.Unlock()
	return g.ledger.RecordLimit(ctx, kind, reason, g.now())
}

// Reservation is one booked action. It is not safe for concurrent use.
type Reservation struct {
	ledger Ledger
	id     int64
	done   bool
}

// Keep confirms the action happened; a later Release is then a no-op.
func (r *Reservation) Keep() {
	r.done = true
}

// Release returns an unused reservation to the quota. Releasing twice, or
// after Keep, does nothing.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil || r.done {
		return nil
	}
	r.done = true
	return r.ledger.ReleaseAction(ctx, r.id)
}

// Stopping reports whether err means the account must stop rather than skip
// one profile.
func Stopping(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) || errors.Is(err, ErrHalted) || errors.Is(err, ErrLimitCooldown)
}

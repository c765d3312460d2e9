package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/driver"
)

var (
	// ErrSessionBusy is returned by Lease when another run holds the key.
	ErrSessionBusy = errors.New("session is already in use by another run")
	// ErrRegistryClosed is returned after Shutdown.
	ErrRegistryClosed = errors.New("session registry is shut down")
)

// Registry owns every live Session in the process, at most one per Key.
type Registry struct {
	factory driver.Factory
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
	closed   bool

	creating singleflight.Group
}

func NewRegistry(factory driver.Factory, log *zap.Logger) *Registry {
	return &Registry{
		factory:  factory,
		log:      log.Named("registry"),
		sessions: make(map[Key]*Session),
	}
}

func (r *Registry) lookup(key Key) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	s, ok := r.sessions[key]
	return s, ok, nil
}

// GetOrCreate returns the cached session for key or constructs one.
// Construction is atomic per key: concurrent callers for the same key share
// one construction and receive the same Session, while different keys
// construct in parallel.
func (r *Registry) GetOrCreate(ctx context.Context, key Key, acct account.Account) (*Session, error) {
	if s, ok, err := r.lookup(key); err != nil || ok {
		return s, err
	}

	v, err, _ := r.creating.Do(fmt.Sprintf("%q|%q|%q", key.Handle, key.Campaign, key.Fingerprint), func() (any, error) {
		if s, ok, err := r.lookup(key); err != nil || ok {
			return s, err
		}

		d, err := r.factory(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("create session %s: %w", key, err)
		}
		s := New(key, acct, d)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = d.Close()
			return nil, ErrRegistryClosed
		}
		r.sessions[key] = s
		n := len(r.sessions)
		r.mu.Unlock()

		r.log.Info("session created", zap.Stringer("key", key), zap.Int("live", n))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lease is GetOrCreate plus exclusive use of the session until release is
// called. A key that is already leased yields ErrSessionBusy. A session
// closed between lookup and lease is never handed out; Lease retries with a
// fresh one.
func (r *Registry) Lease(ctx context.Context, key Key, acct account.Account) (*Session, func(), error) {
	for {
		s, err := r.GetOrCreate(ctx, key, acct)
		if err != nil {
			return nil, nil, err
		}

		r.mu.Lock()
		if s.closed || r.sessions[key] != s {
			r.mu.Unlock()
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			continue
		}
		if s.leased {
			r.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %s", ErrSessionBusy, key)
		}
		s.leased = true
		r.mu.Unlock()

		var once sync.Once
		release := func() {
			once.Do(func() {
				r.mu.Lock()
				s.leased = false
				r.mu.Unlock()
			})
		}
		return s, release, nil
	}
}

// Close releases the driver of the session cached under key and evicts it.
// Closing an unknown key is a no-op.
func (r *Registry) Close(key Key) error {
	r.mu.Lock()
	s := r.sessions[key]
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return r.CloseSession(s)
}

// CloseSession closes s and evicts it if it is still the cached session for
// its key. A session that replaced s under the same key is left alone, and
// closing s twice closes its driver once.
func (r *Registry) CloseSession(s *Session) error {
	r.mu.Lock()
	if s.closed {
		r.mu.Unlock()
		return nil
	}
	s.closed = true
	if r.sessions[s.key] == s {
		delete(r.sessions, s.key)
	}
	r.mu.Unlock()

	err := s.driver.Close()
	if err != nil {
		r.log.Warn("session close failed", zap.Stringer("key", s.key), zap.Error(err))
	} else {
		r.log.Info("session closed", zap.Stringer("key", s.key))
	}
	return err
}

// ClearAll closes every cached session.
func (r *Registry) ClearAll() error {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[Key]*Session)
	for _, s := range all {
		s.closed = true
	}
	r.mu.Unlock()

	var g errgroup.Group
	for key, s := range all {
		g.Go(func() error {
			if err := s.driver.Close(); err != nil {
				return fmt.Errorf("close session %s: %w", key, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if len(all) > 0 {
		r.log.Info("sessions cleared", zap.Int("count", len(all)), zap.Error(err))
	}
	return err
}

// Shutdown clears the registry and refuses new sessions.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.ClearAll()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

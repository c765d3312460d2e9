// Package driver defines the automation capability the outreach engine
// drives: navigate, locate, click, fill and wait. Callers address UI
// affordances by Target name; only implementations know selectors.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/account"
)

var (
	// ErrTimeout reports a bounded wait that expired.
	ErrTimeout = errors.New("driver: timed out")
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("driver: closed")
	// ErrStaleElement is returned when an element handle no longer belongs
	// to the current page or to this driver.
	ErrStaleElement = errors.New("driver: stale element")
)

// Target names a UI affordance on the automated site.
type Target string

const (
	TargetConnectButton     Target = "connect_button"
	TargetMoreActions       Target = "more_actions"
	TargetMoreConnect       Target = "more_connect"
	TargetAddNote           Target = "add_note"
	TargetNoteInput         Target = "note_input"
	TargetSendInvite        Target = "send_invite"
	TargetSendWithoutNote   Target = "send_without_note"
	TargetPendingBadge      Target = "pending_badge"
	TargetConnectedBadge    Target = "connected_badge"
	TargetErrorToast        Target = "error_toast"
	TargetInviteLimitBanner Target = "invite_limit_banner"
	TargetProfileName       Target = "profile_name"
	TargetProfileHeadline   Target = "profile_headline"
	TargetMessageButton     Target = "message_button"
	TargetMessageInput      Target = "message_input"
	TargetMessageSend       Target = "message_send"
	TargetLoginEmail        Target = "login_email"
	TargetLoginPassword     Target = "login_password"
	TargetLoginSubmit       Target = "login_submit"
)

// Key is a keyboard key understood by Press.
type Key string

const (
	KeyEscape Key = "Escape"
	KeyEnter  Key = "Enter"
)

// ClickOptions tunes a click.
type ClickOptions struct {
	// Force dispatches the click from script, bypassing overlays.
	Force bool
	// Settle is slept after the click so the page can react.
	Settle time.Duration
}

// Element is an opaque handle to a located element.
type Element interface {
	Text(ctx context.Context) (string, error)
}

// Driver is one automation context (a browser page) bound to one session.
// Every method honours ctx and the implementation's own bounded waits.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Locate returns the element for t, or nil and no error when absent.
	Locate(ctx context.Context, t Target) (Element, error)
	// WaitFor polls for t until timeout and returns ErrTimeout if it never
	// appears.
	WaitFor(ctx context.Context, t Target, timeout time.Duration) (Element, error)
	Click(ctx context.Context, el Element, opts ClickOptions) error
	Fill(ctx context.Context, el Element, text string) error
	Press(ctx context.Context, key Key) error
	WaitReady(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	SetCookies(ctx context.Context, cookies []account.Cookie) error
	Cookies(ctx context.Context) ([]account.Cookie, error)
	Close() error
}

// Factory constructs a Driver for an account.
type Factory func(ctx context.Context, acct account.Account) (Driver, error)

// IsTimeout reports whether err is a driver timeout or an expired context
// deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

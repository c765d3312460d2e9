package stealth

import (
	"fmt"
	"strings"
)

// SignalType categorises something the site showed us.
type SignalType string

const (
	SignalCheckpoint        SignalType = "CHECKPOINT"
	SignalCaptcha           SignalType = "CAPTCHA"
	SignalSessionExpired    SignalType = "SESSION_EXPIRED"
	SignalWeeklyInviteLimit SignalType = "WEEKLY_INVITE_LIMIT"
	SignalMessageLimit      SignalType = "MESSAGE_LIMIT"
	SignalAccountRestricted SignalType = "ACCOUNT_RESTRICTED"
	SignalCannotConnect     SignalType = "CANNOT_CONNECT"
	SignalCannotMessage     SignalType = "CANNOT_MESSAGE"
	SignalInMailRequired    SignalType = "INMAIL_REQUIRED"
	SignalProfileNotFound   SignalType = "PROFILE_NOT_FOUND"
	SignalUnknown           SignalType = "UNKNOWN"
)

// RecoveryAction is what the caller should do about a signal.
type RecoveryAction string

const (
	ActionStop   RecoveryAction = "STOP"
	ActionSkip   RecoveryAction = "SKIP"
	ActionReauth RecoveryAction = "REAUTH"
	ActionManual RecoveryAction = "MANUAL"
)

// Signal is a classified site condition.
type Signal struct {
	Type    SignalType
	Message string
	Action  RecoveryAction
}

func (s *Signal) Error() string {
	return fmt.Sprintf("[%s] %s", s.Type, s.Message)
}

// Critical reports whether the signal halts the whole account.
func (s *Signal) Critical() bool {
	return s.Action == ActionStop || s.Action == ActionManual
}

type pattern struct {
	signal SignalType
	needle string
}

// Checked in order; the first match wins. Limit phrases come before the
// generic "can't send" phrases they overlap with.
var textPatterns = []pattern{
	{SignalWeeklyInviteLimit, "weekly invitation limit"},
	{SignalWeeklyInviteLimit, "too many pending invitations"},
	{SignalWeeklyInviteLimit, "outstanding invitations"},
	{SignalMessageLimit, "messaging limit"},
	{SignalMessageLimit, "you can't send more messages"},
	{SignalAccountRestricted, "account has been restricted"},
	{SignalAccountRestricted, "temporarily restricted"},
	{SignalCaptcha, "verify you're not a robot"},
	{SignalCaptcha, "complete the security check"},
	{SignalSessionExpired, "session has expired"},
	{SignalSessionExpired, "please sign in again"},
	{SignalInMailRequired, "inmail"},
	{SignalCannotConnect, "unable to send invitation"},
	{SignalCannotConnect, "can't send invitation"},
	{SignalCannotConnect, "cannot invite"},
	{SignalCannotConnect, "can't invite"},
	{SignalCannotMessage, "unable to send message"},
	{SignalCannotMessage, "message could not be sent"},
	{SignalProfileNotFound, "this page doesn't exist"},
	{SignalProfileNotFound, "profile is not available"},
}

var urlPatterns = []pattern{
	{SignalCaptcha, "/checkpoint/challenge"},
	{SignalCaptcha, "/authwall"},
	{SignalCheckpoint, "/checkpoint"},
	{SignalSessionExpired, "/uas/login"},
	{SignalSessionExpired, "/login"},
}

// ClassifyURL inspects a page URL for auth walls and checkpoints. It returns
// nil for an ordinary page.
func ClassifyURL(url string) *Signal {
	lower := strings.ToLower(url)
	for _, p := range urlPatterns {
		if strings.Contains(lower, p.needle) {
			return newSignal(p.signal)
		}
	}
	return nil
}

// ClassifyText matches visible text such as a toast against known phrases.
// Unrecognised non-empty text yields SignalUnknown with ActionSkip; empty
// text yields nil.
func ClassifyText(text string) *Signal {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}
	for _, p := range textPatterns {
		if strings.Contains(lower, p.needle) {
			s := newSignal(p.signal)
			s.Message = strings.TrimSpace(text)
			return s
		}
	}
	return &Signal{Type: SignalUnknown, Message: strings.TrimSpace(text), Action: ActionSkip}
}

func newSignal(t SignalType) *Signal {
	s := &Signal{Type: t}
	switch t {
	case SignalCheckpoint:
		s.Message, s.Action = "security checkpoint", ActionManual
	case SignalCaptcha:
		s.Message, s.Action = "captcha challenge", ActionManual
	case SignalSessionExpired:
		s.Message, s.Action = "not signed in", ActionReauth
	case SignalWeeklyInviteLimit:
		s.Message, s.Action = "weekly invitation limit reached", ActionStop
	case SignalMessageLimit:
		s.Message, s.Action = "message limit reached", ActionStop
	case SignalAccountRestricted:
		s.Message, s.Action = "account restricted", ActionStop
	case SignalCannotConnect:
		s.Message, s.Action = "cannot send invitation", ActionSkip
	case SignalCannotMessage:
		s.Message, s.Action = "cannot send message", ActionSkip
	case SignalInMailRequired:
		s.Message, s.Action = "inmail required", ActionSkip
	case SignalProfileNotFound:
		s.Message, s.Action = "profile not found", ActionSkip
	default:
		s.Message, s.Action = "unrecognised condition", ActionSkip
	}
	return s
}

package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/profile"
)

// ErrInvalidRequest marks a request rejected before anything ran.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultCampaignName is used when a request names no campaign.
const DefaultCampaignName = "connect_follow_up"

// Campaign names used by the single-shot operations. Each gets its own
// session key so it never collides with a running campaign.
const (
	statusCampaign  = "status_check"
	messageCampaign = "send_messages"
)

// Mode selects the per-profile action of a run.
type Mode string

const (
	ModeConnect Mode = "connect"
	ModeMessage Mode = "message"
)

// RunRequest describes one campaign run.
type RunRequest struct {
	RunID        string          `json:"run_id,omitempty"`
	Account      account.Account `json:"account"`
	Targets      []string        `json:"targets"`
	CampaignName string          `json:"campaign_name,omitempty"`
	Mode         Mode            `json:"mode,omitempty"`
	// Note is the optional invitation note in connect mode.
	Note string `json:"note,omitempty"`
	// Message is the text sent in message mode.
	Message string `json:"message,omitempty"`
}

// Normalize fills defaults and validates the request against maxTargets
// (zero means unlimited).
func (r *RunRequest) Normalize(maxTargets int) error {
	if r.CampaignName = strings.TrimSpace(r.CampaignName); r.CampaignName == "" {
		r.CampaignName = DefaultCampaignName
	}
	if r.Mode == "" {
		r.Mode = ModeConnect
	}
	if err := validateTargets(r.Targets, maxTargets); err != nil {
		return err
	}

	switch r.Mode {
	case ModeConnect:
	case ModeMessage:
		if strings.TrimSpace(r.Message) == "" {
			return fmt.Errorf("%w: message text is required in message mode", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.Account.Handle() == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidRequest)
	}
	return nil
}

func validateTargets(targets []string, maxTargets int) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: No URLs provided. Please provide at least one LinkedIn profile URL.", ErrInvalidRequest)
	}
	if maxTargets > 0 && len(targets) > maxTargets {
		return fmt.Errorf("%w: Too many URLs. Maximum %d profiles per request.", ErrInvalidRequest, maxTargets)
	}
	return nil
}

// ProfileOutcome is what happened to one target.
type ProfileOutcome struct {
	URL      string                `json:"url"`
	PublicID string                `json:"public_identifier,omitempty"`
	State    profile.State         `json:"state"`
	Message  profile.MessageStatus `json:"message_status,omitempty"`
	// Resumed is true when the stored state already satisfied the run.
	Resumed bool   `json:"resumed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a run. Success is false only when the run could
// not be set up or died mid-way; skipped or failed profiles do not flip it.
type Result struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	CampaignID   string           `json:"campaign_id,omitempty"`
	CampaignName string           `json:"campaign_name,omitempty"`
	Mode         Mode             `json:"mode,omitempty"`
	Total        int              `json:"total"`
	Processed    int              `json:"profiles_processed"`
	Succeeded    int              `json:"profiles_succeeded"`
	Failed       int              `json:"profiles_failed"`
	Stopped      bool             `json:"stopped,omitempty"`
	StopReason   string           `json:"stopped_reason,omitempty"`
	Profiles     []ProfileOutcome `json:"profiles,omitempty"`
}

// StatusRequest asks for the live relationship state of profiles.
type StatusRequest struct {
	Account account.Account `json:"account"`
	URLs    []string        `json:"urls"`
}

// StoredStatusRequest asks for what the profile store knows.
type StoredStatusRequest struct {
	Handle string   `json:"handle"`
	URLs   []string `json:"urls"`
}

// ProfileStatus is the status of one profile, live or stored.
type ProfileStatus struct {
	URL         string        `json:"url"`
	PublicID    string        `json:"public_identifier,omitempty"`
	State       profile.State `json:"state"`
	Found       bool          `json:"found"`
	FullName    string        `json:"full_name,omitempty"`
	Headline    string        `json:"headline,omitempty"`
	LastUpdated *time.Time    `json:"last_updated,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// MessageRequest asks to message one connected profile.
type MessageRequest struct {
	Account account.Account `json:"account"`
	URL     string          `json:"url"`
	Text    string          `json:"text"`
}

// MessageResult is the outcome of a single message.
type MessageResult struct {
	Success  bool                  `json:"success"`
	Status   profile.MessageStatus `json:"status"`
	PublicID string                `json:"public_identifier,omitempty"`
	Message  string                `json:"message"`
}

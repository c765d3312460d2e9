package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Nehilsa2/linkedin_outreach/isolation"
	"github.com/Nehilsa2/linkedin_outreach/session"
)

// Task kinds understood by the handler.
const (
	TaskRunCampaign  = "run_campaign"
	TaskCheckStatus  = "check_status"
	TaskStoredStatus = "stored_status"
	TaskSendMessage  = "send_message"
	TaskExport       = "export"
)

// Error codes carried across the isolation boundary.
const (
	CodeInvalidRequest = "invalid_request"
	CodeSessionBusy    = "session_busy"
	CodeUnavailable    = "unavailable"
)

// exportRequest names the account whose store is exported.
type exportRequest struct {
	Handle string `json:"handle"`
}

// NewHandler exposes svc as an isolation.Handler.
func NewHandler(svc *Service) isolation.Handler {
	return isolation.HandlerFunc(func(ctx context.Context, t isolation.Task) (json.RawMessage, error) {
		out, err := dispatch(ctx, svc, t)
		if err != nil {
			return nil, withCode(err)
		}
		return out, nil
	})
}

func dispatch(ctx context.Context, svc *Service, t isolation.Task) (json.RawMessage, error) {
	switch t.Kind {
	case TaskRunCampaign:
		return handle(ctx, t, svc.RunCampaign)
	case TaskCheckStatus:
		return handle(ctx, t, svc.CheckStatus)
	case TaskStoredStatus:
		return handle(ctx, t, svc.StoredStatus)
	case TaskSendMessage:
		return handle(ctx, t, svc.SendMessage)
	case TaskExport:
		var req exportRequest
		if err := decode(t, &req); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := svc.Export(ctx, req.Handle, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: unknown task %q", ErrInvalidRequest, t.Kind)
}

func handle[Req, Resp any](ctx context.Context, t isolation.Task, fn func(context.Context, Req) (Resp, error)) (json.RawMessage, error) {
	var req Req
	if err := decode(t, &req); err != nil {
		return nil, err
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func decode(t isolation.Task, v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidRequest, t.Kind, err)
	}
	return nil
}

func withCode(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return isolation.WithCode(CodeInvalidRequest, err)
	case errors.Is(err, session.ErrSessionBusy):
		return isolation.WithCode(CodeSessionBusy, err)
	case errors.Is(err, session.ErrRegistryClosed):
		return isolation.WithCode(CodeUnavailable, err)
	}
	return err
}

// sentinelFor maps a wire code back to the error it was raised for.
func sentinelFor(code string) error {
	switch code {
	case CodeInvalidRequest:
		return ErrInvalidRequest
	case CodeSessionBusy:
		return session.ErrSessionBusy
	case CodeUnavailable:
		return session.ErrRegistryClosed
	}
	return nil
}

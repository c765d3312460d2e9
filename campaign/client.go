package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/isolation"
	"github.com/Nehilsa2/linkedin_outreach/session"
)

// Client submits service calls to an isolation.Executor and waits for them
// without blocking other callers.
//
// Worker processes each own a private session registry, so the client also
// tracks which session keys are in flight and rejects a second call for the
// same key with session.ErrSessionBusy before it reaches a worker.
type Client struct {
	exec isolation.Executor

	mu       sync.Mutex
	inflight map[session.Key]struct{}
}

func NewClient(exec isolation.Executor) *Client {
	return &Client{exec: exec, inflight: make(map[session.Key]struct{})}
}

func (c *Client) RunCampaign(ctx context.Context, req RunRequest) (Result, error) {
	name := strings.TrimSpace(req.CampaignName)
	if name == "" {
		name = DefaultCampaignName
	}
	release, err := c.claim(req.Account, name, req.Targets)
	if err != nil {
		return Result{Message: err.Error()}, err
	}
	defer release()
	return call[Result](ctx, c.exec, TaskRunCampaign, req)
}

func (c *Client) CheckStatus(ctx context.Context, req StatusRequest) ([]ProfileStatus, error) {
	release, err := c.claim(req.Account, statusCampaign, req.URLs)
	if err != nil {
		return nil, err
	}
	defer release()
	return call[[]ProfileStatus](ctx, c.exec, TaskCheckStatus, req)
}

func (c *Client) StoredStatus(ctx context.Context, req StoredStatusRequest) ([]ProfileStatus, error) {
	return call[[]ProfileStatus](ctx, c.exec, TaskStoredStatus, req)
}

func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (MessageResult, error) {
	release, err := c.claim(req.Account, messageCampaign, []string{req.URL})
	if err != nil {
		return MessageResult{}, err
	}
	defer release()
	return call[MessageResult](ctx, c.exec, TaskSendMessage, req)
}

// Export writes the account's profile store as JSON to w.
func (c *Client) Export(ctx context.Context, handle string, w io.Writer) error {
	raw, err := submit(ctx, c.exec, TaskExport, exportRequest{Handle: handle})
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

func (c *Client) claim(acct account.Account, campaign string, targets []string) (func(), error) {
	if acct.Handle() == "" {
		return func() {}, nil
	}
	key := session.NewKey(acct.Handle(), campaign, targets)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionBusy, key)
	}
	c.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		})
	}, nil
}

func call[Resp any](ctx context.Context, exec isolation.Executor, kind string, req any) (Resp, error) {
	var resp Resp
	raw, err := submit(ctx, exec, kind, req)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, fmt.Errorf("decode %s result: %w", kind, err)
	}
	return resp, nil
}

func submit(ctx context.Context, exec isolation.Executor, kind string, req any) (json.RawMessage, error) {
	t, err := isolation.NewTask(kind, req)
	if err != nil {
		return nil, err
	}
	raw, err := exec.Submit(ctx, t).Wait(ctx)
	if err != nil {
		return nil, fromRemote(err)
	}
	return raw, nil
}

// fromRemote restores the sentinel a worker process reported by code.
func fromRemote(err error) error {
	var remote *isolation.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	sentinel := sentinelFor(remote.Code)
	if sentinel == nil || errors.Is(err, sentinel) {
		return err
	}
	return &decodedError{sentinel: sentinel, err: err}
}

type decodedError struct {
	sentinel error
	err      error
}

func (e *decodedError) Error() string   { return e.err.Error() }
func (e *decodedError) Unwrap() []error { return []error{e.sentinel, e.err} }

// Package isolation runs blocking automation work away from the request
// path, either on pinned OS threads in this process or in short-lived
// worker processes.
package isolation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned for tasks submitted after Close.
var ErrClosed = errors.New("isolation: executor closed")

// Task is one unit of work. Payload is the JSON-encoded request for Kind.
type Task struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewTask encodes payload into a Task.
func NewTask(kind string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Task{Kind: kind, Payload: raw}, nil
}

// Handler executes tasks.
type Handler interface {
	Handle(ctx context.Context, t Task) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t Task) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, t Task) (json.RawMessage, error) {
	return f(ctx, t)
}

// Executor accepts tasks and runs them off the caller's goroutine.
type Executor interface {
	Submit(ctx context.Context, t Task) *Future
	// Close stops accepting tasks and waits for running ones.
	Close() error
}

// Future is the pending result of a submitted task.
type Future struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failed(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

func (f *Future) resolve(result json.RawMessage, err error) {
	f.result, f.err = result, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finished or ctx is done. Giving up on a
// future does not cancel its task; cancel the context passed to Submit for
// that.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Coder is implemented by errors that carry a stable code across the
// process boundary.
type Coder interface {
	ErrorCode() string
}

// CodeOf returns the code of the first Coder in err's chain, or "".
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// RemoteError is an error reported by a worker process.
type RemoteError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) ErrorCode() string { return e.Code }

// WithCode attaches code to err.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string     { return e.err.Error() }
func (e *codedError) Unwrap() error     { return e.err }
func (e *codedError) ErrorCode() string { return e.code }

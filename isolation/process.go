package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// WorkerCommand is the hidden subcommand a worker process runs.
const WorkerCommand = "worker"

// ProcessConfig tunes a ProcessPool.
type ProcessConfig struct {
	// Binary is the worker executable; empty means this executable.
	Binary string
	// Args start the worker; empty means []string{WorkerCommand}.
	Args []string
	// Env is appended to the inherited environment.
	Env     []string
	Workers int
	// Stderr receives worker logs; nil means os.Stderr.
	Stderr io.Writer
	// WaitDelay bounds how long a cancelled worker may take to exit.
	WaitDelay time.Duration
}

// ProcessPool runs every task in a fresh worker process, at most Workers at
// a time. A worker that crashes or leaks only takes its own task with it.
type ProcessPool struct {
	cfg ProcessConfig
	sem *semaphore.Weighted
	log *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewProcessPool(cfg ProcessConfig, log *zap.Logger) (*ProcessPool, error) {
	if cfg.Binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker binary: %w", err)
		}
		cfg.Binary = exe
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{WorkerCommand}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	return &ProcessPool{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.Workers)),
		log: log.Named("processes"),
	}, nil
}

// reply is the single JSON document a worker writes to stdout.
type reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

func (p *ProcessPool) Submit(ctx context.Context, t Task) *Future {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return failed(ErrClosed)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	f := newFuture()
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.resolve(nil, err)
			return
		}
		defer p.sem.Release(1)
		f.resolve(p.run(ctx, t))
	}()
	return f
}

func (p *ProcessPool) run(ctx context.Context, t Task) (json.RawMessage, error) {
	input, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.cfg.Binary, p.cfg.Args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = p.cfg.WaitDelay

	var stdout bytes.Buffer
	tail := &tailWriter{max: 2048}
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(p.cfg.Stderr, tail)

	log := p.log.With(zap.String("kind", t.Kind))
	start := time.Now()
	runErr := cmd.Run()
	log.Debug("worker exited",
		zap.Duration("took", time.Since(start)),
		zap.Int("pid", pid(cmd)),
		zap.Error(runErr))

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var r reply
	if derr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &r); derr != nil {
		if runErr == nil {
			runErr = derr
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("worker exited with code %d: %s", exitErr.ExitCode(), tail.String())
		}
		return nil, fmt.Errorf("worker failed: %w", runErr)
	}
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Result, nil
}

func pid(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

// Close refuses new tasks and waits for running workers.
func (p *ProcessPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(b), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}

var _ Executor = (*ProcessPool)(nil)

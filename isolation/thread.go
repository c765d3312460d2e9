package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ThreadPool runs tasks on at most Workers goroutines in this process. Each
// task keeps its OS thread for its whole duration, so no scheduler state of
// the submitting goroutine leaks into the automation code.
type ThreadPool struct {
	handler Handler
	sem     *semaphore.Weighted
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewThreadPool(workers int, h Handler, log *zap.Logger) *ThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &ThreadPool{
		handler: h,
		sem:     semaphore.NewWeighted(int64(workers)),
		log:     log.Named("threads"),
	}
}

func (p *ThreadPool) Submit(ctx context.Context, t Task) *Future {
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

func (p *ThreadPool) run(ctx context.Context, t Task) (result json.RawMessage, err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.String("kind", t.Kind), zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, WithCode(CodePanic, fmt.Errorf("task %s panicked: %v", t.Kind, r))
		}
	}()

	p.log.Debug("task started", zap.String("kind", t.Kind))
	return p.handler.Handle(ctx, t)
}

// Close refuses new tasks and waits for submitted ones.
func (p *ThreadPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

var _ Executor = (*ThreadPool)(nil)

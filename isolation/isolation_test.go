package isolation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

const workerEnv = "ISOLATION_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		if err := ServeWorker(context.Background(), os.Stdin, os.Stdout, testHandler()); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	}
	goleak.VerifyTestMain(m)
}

func testHandler() Handler {
	return HandlerFunc(func(ctx context.Context, t Task) (json.RawMessage, error) {
		switch t.Kind {
		case "echo":
			return t.Payload, nil
		case "fail":
			return nil, WithCode("busy", errors.New("already running"))
		case "panic":
			panic("boom")
		case "crash":
			os.Stderr.WriteString("fatal: out of memory\n")
			os.Exit(3)
		case "sleep":
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(30 * time.Second):
				return json.RawMessage(`"late"`), nil
			}
		}
		return nil, errors.New("unknown kind " + t.Kind)
	})
}

func newProcessPool(t *testing.T, workers int) *ProcessPool {
	t.Helper()
	p, err := NewProcessPool(ProcessConfig{
		Binary:    os.Args[0],
		Args:      []string{"-test.run=^$"},
		Env:       []string{workerEnv + "=1"},
		Workers:   workers,
		Stderr:    io.Discard,
		WaitDelay: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestProcessPoolRoundTrip(t *testing.T) {
	p := newProcessPool(t, 2)
	task, err := NewTask("echo", map[string]int{"n": 7})
	require.NoError(t, err)

	got, err := p.Submit(context.Background(), task).Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(got))
}

func TestProcessPoolCarriesErrorCodes(t *testing.T) {
	p := newProcessPool(t, 1)

	_, err := p.Submit(context.Background(), Task{Kind: "fail"}).Wait(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "busy", remote.Code)
	assert.Equal(t, "already running", remote.Message)
	assert.Equal(t, "busy", CodeOf(err))
}

func TestProcessPoolRecoversWorkerPanic(t *testing.T) {
	p := newProcessPool(t, 1)

	_, err := p.Submit(context.Background(), Task{Kind: "panic"}).Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodePanic, CodeOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestProcessPoolReportsCrashedWorker(t *testing.T) {
	p := newProcessPool(t, 1)

	_, err := p.Submit(context.Background(), Task{Kind: "crash"}).Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "out of memory")
}

func TestProcessPoolCancelKillsWorker(t *testing.T) {
	p := newProcessPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	f := p.Submit(ctx, Task{Kind: "sleep"})
	time.AfterFunc(200*time.Millisecond, cancel)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	_, err := f.Wait(waitCtx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestThreadPoolBoundsConcurrency(t *testing.T) {
	var running, peak int32
	h := HandlerFunc(func(ctx context.Context, t Task) (json.RawMessage, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return t.Payload, nil
	})
	p := NewThreadPool(2, h, zap.NewNop())
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		f := p.Submit(context.Background(), Task{Kind: "echo", Payload: json.RawMessage(`1`)})
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.Wait(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "1", string(got))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestThreadPoolRecoversPanic(t *testing.T) {
	p := NewThreadPool(1, testHandler(), zap.NewNop())
	defer p.Close()

	_, err := p.Submit(context.Background(), Task{Kind: "panic"}).Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	got, err := p.Submit(context.Background(), Task{Kind: "echo", Payload: json.RawMessage(`"ok"`)}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(got))
}

func TestThreadPoolKeepsErrorChain(t *testing.T) {
	sentinel := errors.New("session busy")
	h := HandlerFunc(func(context.Context, Task) (json.RawMessage, error) {
		return nil, WithCode("busy", sentinel)
	})
	p := NewThreadPool(1, h, zap.NewNop())
	defer p.Close()

	_, err := p.Submit(context.Background(), Task{Kind: "x"}).Wait(context.Background())
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "busy", CodeOf(err))
}

func TestSubmitAfterClose(t *testing.T) {
	p := NewThreadPool(1, testHandler(), zap.NewNop())
	require.NoError(t, p.Close())

	_, err := p.Submit(context.Background(), Task{Kind: "echo"}).Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFutureWaitHonoursContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	f.resolve(nil, nil)
}

func TestServeWorkerRejectsGarbage(t *testing.T) {
	var out strings.Builder
	err := ServeWorker(context.Background(), strings.NewReader("not json"), &out, testHandler())
	require.Error(t, err)

	var r reply
	require.NoError(t, json.Unmarshal([]byte(out.String()), &r))
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeBadTask, r.Error.Code)
}

func TestRecommendedWorkers(t *testing.T) {
	const mb = 1 << 20
	tests := []struct {
		mem, per uint64
		want     int
	}{
		{100 * mb, 200 * mb, 1},
		{600 * mb, 200 * mb, 3},
		{64 * 1024 * mb, 200 * mb, MaxWorkers},
		{600 * mb, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RecommendedWorkers(tt.mem, tt.per), "mem=%d per=%d", tt.mem, tt.per)
	}
}

func TestParseMemAvailable(t *testing.T) {
	meminfo := "MemTotal:       16314300 kB\nMemFree:         1200000 kB\nMemAvailable:    8000000 kB\n"
	got, err := parseMemAvailable(bufio.NewScanner(strings.NewReader(meminfo)))
	require.NoError(t, err)
	assert.Equal(t, uint64(8000000*1024), got)

	_, err = parseMemAvailable(bufio.NewScanner(strings.NewReader("MemTotal: 1 kB\n")))
	assert.Error(t, err)
}

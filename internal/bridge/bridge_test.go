package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess is a scripted Process implementation. Each Send invokes the
// onSend script, whose returned responses are emitted as stdout lines.
type fakeProcess struct {
	onSend      func(req wireRequest) []wireResponse
	readyDelay  time.Duration
	crashOnSend bool

	lines chan []byte
	done  chan struct{}
	sends atomic.Int64

	killOnce sync.Once
}

func newFakeProcess(onSend func(req wireRequest) []wireResponse) *fakeProcess {
	return &fakeProcess{
		onSend: onSend,
		lines:  make(chan []byte, 8),
		done:   make(chan struct{}),
	}
}

func (p *fakeProcess) Start(ctx context.Context) error {
	go func() {
		if p.readyDelay > 0 {
			time.Sleep(p.readyDelay)
		}
		p.emit(wireResponse{Success: true, Message: readyMessage})
	}()
	return nil
}

func (p *fakeProcess) Send(line []byte) error {
	p.sends.Add(1)
	if p.crashOnSend {
		p.Kill()
		return nil
	}
	if p.onSend == nil {
		return nil
	}
	var req wireRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return err
	}
	go func() {
		for _, resp := range p.onSend(req) {
			p.emit(resp)
		}
	}()
	return nil
}

func (p *fakeProcess) emit(resp wireResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		panic(err)
	}
	select {
	case p.lines <- payload:
	case <-p.done:
	}
}

func (p *fakeProcess) Lines() <-chan []byte { return p.lines }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() { close(p.done) })
}

// fakeFactory hands out fake processes in order, repeating the last build
// function for restarts.
type fakeFactory struct {
	mu     sync.Mutex
	builds []func() *fakeProcess
	procs  []*fakeProcess
}

func (f *fakeFactory) factory() ProcessFactory {
	return func() Process {
		f.mu.Lock()
		defer f.mu.Unlock()
		build := f.builds[len(f.builds)-1]
		if len(f.procs) < len(f.builds) {
			build = f.builds[len(f.procs)]
		}
		proc := build()
		f.procs = append(f.procs, proc)
		return proc
	}
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeFactory) proc(i int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		StartupTimeout: time.Second,
		RequestTimeout: 200 * time.Millisecond,
		MaxAttempts:    2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		RestartDelay:   time.Millisecond,
		MaxQueryLength: 100,
	}
}

func answerWith(text string, contexts ...string) func(req wireRequest) []wireResponse {
	return func(req wireRequest) []wireResponse {
		return []wireResponse{{Success: true, Answer: text, Contexts: contexts}}
	}
}

func TestBridgeQuerySuccess(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess { return newFakeProcess(answerWith("the answer", "ctx-1", "ctx-2")) },
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	answer, err := b.Query(context.Background(), Request{Query: "what is up", CallerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer.Text)
	assert.Equal(t, []string{"ctx-1", "ctx-2"}, answer.Sources)
	assert.Greater(t, answer.Elapsed, time.Duration(0))
}

func TestBridgeQueryValidation(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess { return newFakeProcess(answerWith("unused")) },
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	_, err := b.Query(context.Background(), Request{Query: "   "})
	require.ErrorIs(t, err, ErrValidation)

	_, err = b.Query(context.Background(), Request{Query: strings.Repeat("x", 101)})
	require.ErrorIs(t, err, ErrValidation)

	// Validation failures never reach the worker.
	require.Eventually(t, func() bool { return factory.count() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), factory.proc(0).sends.Load())
}

func TestBridgeAnonymousCallerDefault(t *testing.T) {
	t.Parallel()

	var gotUserID atomic.Value
	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess {
			return newFakeProcess(func(req wireRequest) []wireResponse {
				gotUserID.Store(req.UserID)
				return []wireResponse{{Success: true, Answer: "ok"}}
			})
		},
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	_, err := b.Query(context.Background(), Request{Query: "hello"})
	require.NoError(t, err)
	assert.Equal(t, AnonymousCaller, gotUserID.Load())
}

func TestBridgeRetriesWorkerFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess {
			return newFakeProcess(func(req wireRequest) []wireResponse {
				if calls.Add(1) == 1 {
					return []wireResponse{{
						Success: false,
						Error:   &wireError{Message: "retrieval blew up", Code: "EXECUTION_ERROR"},
					}}
				}
				return []wireResponse{{Success: true, Answer: "second try"}}
			})
		},
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	answer, err := b.Query(context.Background(), Request{Query: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, "second try", answer.Text)
	assert.Equal(t, int64(2), calls.Load())
	// Execution failures do not restart the process.
	assert.Equal(t, 1, factory.count())
}

func TestBridgeExhaustsAttempts(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess {
			return newFakeProcess(func(req wireRequest) []wireResponse {
				return []wireResponse{{
					Success: false,
					Error:   &wireError{Message: "always fails", Code: "EXECUTION_ERROR"},
				}}
			})
		},
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	_, err := b.Query(context.Background(), Request{Query: "doomed"})
	require.ErrorIs(t, err, ErrWorkerFailed)
	assert.Equal(t, int64(2), factory.proc(0).sends.Load())
}

func TestBridgeTimeoutRestartsProcess(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess { return newFakeProcess(nil) }, // never answers
	}}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	b := New(factory.factory(), cfg, testLogger())
	b.Start()
	defer b.Stop()

	_, err := b.Query(context.Background(), Request{Query: "slow"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int64(1), b.Timeouts())

	// The wedged process is killed and a fresh one spawned.
	require.Eventually(t, func() bool {
		return factory.count() >= 2 && b.Restarts() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestBridgeCrashFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess {
			p := newFakeProcess(nil)
			p.crashOnSend = true
			return p
		},
		func() *fakeProcess { return newFakeProcess(answerWith("recovered")) },
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	_, err := b.Query(context.Background(), Request{Query: "crash me"})
	require.ErrorIs(t, err, ErrProcessExited)
	assert.Equal(t, int64(1), factory.proc(0).sends.Load())

	// The restarted process serves later queries.
	require.Eventually(t, func() bool { return factory.count() >= 2 }, time.Second, 10*time.Millisecond)
	answer, err := b.Query(context.Background(), Request{Query: "after restart"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer.Text)
}

func TestBridgeQueriesQueueUntilReady(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess {
			p := newFakeProcess(answerWith("eventually"))
			p.readyDelay = 100 * time.Millisecond
			return p
		},
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	answer, err := b.Query(context.Background(), Request{Query: "early bird"})
	require.NoError(t, err)
	assert.Equal(t, "eventually", answer.Text)
}

func TestBridgeSerializesConcurrentQueries(t *testing.T) {
	t.Parallel()

	var inFlight atomic.Int32
	var violations atomic.Int32
	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess {
			return newFakeProcess(func(req wireRequest) []wireResponse {
				if inFlight.Add(1) != 1 {
					violations.Add(1)
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return []wireResponse{{Success: true, Answer: req.Query}}
			})
		},
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Query(context.Background(), Request{Query: "concurrent"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load(),
		"worker must never see overlapping requests")
}

func TestBridgeStopRejectsQueries(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess { return newFakeProcess(answerWith("unused")) },
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	b.Stop()

	_, err := b.Query(context.Background(), Request{Query: "too late"})
	require.ErrorIs(t, err, ErrBridgeClosed)
}

func TestBridgeHealthCheck(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{builds: []func() *fakeProcess{
		func() *fakeProcess { return newFakeProcess(answerWith("healthy")) },
	}}
	b := New(factory.factory(), testConfig(), testLogger())
	b.Start()
	defer b.Stop()

	require.NoError(t, b.HealthCheck(context.Background()))
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	limit := time.Second

	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, limit, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, limit, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, limit, 2))
	assert.Equal(t, limit, backoffDelay(base, limit, 10))
	assert.Equal(t, limit, backoffDelay(base, limit, 63))
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// AnonymousCaller is the sentinel caller identifier used when a request
// carries no caller identity.
const AnonymousCaller = "anonymous"

// healthQuery is the synthetic known-good query issued by HealthCheck
// through the normal Query path.
const healthQuery = "health check"

// Config holds configuration for the worker bridge.
type Config struct {
	// StartupTimeout bounds the wait for the worker's readiness message.
	StartupTimeout time.Duration

	// RequestTimeout bounds a single request/response exchange. Exceeding
	// it kills and restarts the worker process.
	RequestTimeout time.Duration

	// MaxAttempts is the total number of attempts per query, including the
	// first. Timeouts and execution failures consume attempts.
	MaxAttempts int

	// RetryBaseDelay is the base delay for exponential backoff between
	// attempts.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration

	// RestartDelay is the pause before respawning a dead worker process.
	RestartDelay time.Duration

	// MaxQueryLength rejects oversized queries before they reach the worker.
	MaxQueryLength int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		StartupTimeout: 60 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxAttempts:    2,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  10 * time.Second,
		RestartDelay:   500 * time.Millisecond,
		MaxQueryLength: 2000,
	}
}

// Request is one query submitted to the worker.
type Request struct {
	Query    string
	CallerID string
	History  []Turn
}

// Answer is a successful worker response.
type Answer struct {
	Text    string
	Sources []string
	Elapsed time.Duration
}

// callResult carries the outcome of one dispatched exchange.
type callResult struct {
	resp *wireResponse
	err  error
}

// call is one pending exchange waiting in the bridge's FIFO.
type call struct {
	req    wireRequest
	result chan callResult
}

// Bridge provides a query/answer contract over a worker process that only
// understands one request at a time. A single dispatch goroutine exclusively
// owns the process handle, which enforces mutual exclusion and the FIFO
// correlation invariant.
type Bridge struct {
	factory ProcessFactory
	config  Config
	logger  *slog.Logger

	calls chan *call

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	restarts atomic.Int64
	timeouts atomic.Int64

	restartHook func()
	timeoutHook func()
}

// New creates a Bridge. Call Start to launch the worker process.
func New(factory ProcessFactory, config Config, logger *slog.Logger) *Bridge {
	if config.MaxAttempts < 1 {
		logger.Warn("invalid max attempts, using default",
			"specified", config.MaxAttempts, "default", 1)
		config.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		factory: factory,
		config:  config,
		logger:  logger,
		calls:   make(chan *call, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetRestartHook registers a callback invoked on every worker process
// restart, after the first start. Must be called before Start.
func (b *Bridge) SetRestartHook(hook func()) {
	b.restartHook = hook
}

// SetTimeoutHook registers a callback invoked on every request timeout.
// Must be called before Start.
func (b *Bridge) SetTimeoutHook(hook func()) {
	b.timeoutHook = hook
}

// Start launches the supervision loop. Queries submitted before the worker
// signals readiness queue internally.
func (b *Bridge) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop tears down the worker process and rejects pending calls.
func (b *Bridge) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Restarts reports how many times the worker process has been restarted.
func (b *Bridge) Restarts() int64 {
	return b.restarts.Load()
}

// Timeouts reports how many request exchanges have timed out.
func (b *Bridge) Timeouts() int64 {
	return b.timeouts.Load()
}

// Query sends one request through the bridge and blocks until an answer,
// a terminal failure, or context cancellation. Execution failures and
// timeouts are retried with exponential backoff up to the attempt budget;
// validation failures and process crashes are not.
func (b *Bridge) Query(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if len(query) > b.config.MaxQueryLength {
		return nil, fmt.Errorf("%w: query length %d exceeds maximum %d",
			ErrValidation, len(query), b.config.MaxQueryLength)
	}

	caller := req.CallerID
	if caller == "" {
		caller = AnonymousCaller
	}

	wreq := wireRequest{
		Query:               query,
		UserID:              caller,
		ConversationHistory: req.History,
	}

	var lastErr error
	for attempt := 0; attempt < b.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(b.config.RetryBaseDelay, b.config.RetryMaxDelay, attempt-1)
			b.logger.Info("retrying worker query",
				"attempt", attempt+1,
				"max_attempts", b.config.MaxAttempts,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-b.ctx.Done():
				return nil, ErrBridgeClosed
			}
		}

		resp, err := b.dispatch(ctx, wreq)
		if err == nil {
			return &Answer{
				Text:    resp.Answer,
				Sources: resp.Contexts,
				Elapsed: time.Since(start),
			}, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		b.logger.Warn("worker query attempt failed",
			"attempt", attempt+1,
			"max_attempts", b.config.MaxAttempts,
			"error", err)
	}

	return nil, fmt.Errorf("exceeded %d attempts: %w", b.config.MaxAttempts, lastErr)
}

// HealthCheck issues a synthetic query through the normal Query path.
// Success implies the process, protocol, and dispatch loop are all healthy.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	_, err := b.Query(ctx, Request{Query: healthQuery, CallerID: "healthcheck"})
	if err != nil {
		return fmt.Errorf("worker health check failed: %w", err)
	}
	return nil
}

// dispatch enqueues one exchange and waits for its result. Abandoning the
// wait (caller context) leaves the exchange to complete in the background;
// its result lands in the buffered result channel and is dropped.
func (b *Bridge) dispatch(ctx context.Context, req wireRequest) (*wireResponse, error) {
	c := &call{req: req, result: make(chan callResult, 1)}

	select {
	case b.calls <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, ErrBridgeClosed
	}

	select {
	case res := <-c.result:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, ErrBridgeClosed
	}
}

// run is the supervision loop: start process, wait for readiness, serve
// calls until the process dies or a request times out, then restart.
func (b *Bridge) run() {
	defer b.wg.Done()

	first := true
	for {
		if b.ctx.Err() != nil {
			return
		}

		if !first {
			b.restarts.Add(1)
			if b.restartHook != nil {
				b.restartHook()
			}
			select {
			case <-time.After(b.config.RestartDelay):
			case <-b.ctx.Done():
				return
			}
		}
		first = false

		proc := b.factory()
		if err := b.startAndAwaitReady(proc); err != nil {
			if b.ctx.Err() != nil {
				proc.Kill()
				return
			}
			b.logger.Error("worker failed to become ready", "error", err)
			proc.Kill()
			continue
		}

		b.logger.Info("worker ready")
		b.serve(proc)
		proc.Kill()

		if b.ctx.Err() != nil {
			return
		}
		b.logger.Warn("worker process lost, scheduling restart",
			"restarts", b.restarts.Load()+1)
	}
}

// startAndAwaitReady starts the process and blocks until the readiness
// handshake arrives or the startup budget elapses.
func (b *Bridge) startAndAwaitReady(proc Process) error {
	if err := proc.Start(b.ctx); err != nil {
		return err
	}

	timer := time.NewTimer(b.config.StartupTimeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-proc.Lines():
			if !ok {
				return fmt.Errorf("%w before readiness", ErrProcessExited)
			}
			var resp wireResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				b.logger.Warn("unparseable line during startup", "line", string(line))
				continue
			}
			if resp.isReady() {
				return nil
			}
			if !resp.Success && resp.Error != nil {
				return fmt.Errorf("worker initialization failed: %s (%s)",
					resp.Error.Message, resp.Error.Code)
			}
			b.logger.Warn("unexpected message during startup", "line", string(line))
		case <-proc.Done():
			return fmt.Errorf("%w before readiness", ErrProcessExited)
		case <-timer.C:
			return fmt.Errorf("%w: no readiness signal within %s",
				ErrTimeout, b.config.StartupTimeout)
		case <-b.ctx.Done():
			return ErrBridgeClosed
		}
	}
}

// serve handles calls against a ready process until the process dies, an
// exchange times out, or the bridge shuts down.
func (b *Bridge) serve(proc Process) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-proc.Done():
			b.logger.Error("worker process exited while idle")
			return
		case line, ok := <-proc.Lines():
			if !ok {
				return
			}
			// Only one request is ever in flight, so an idle line is
			// protocol noise.
			b.logger.Warn("unexpected line from idle worker", "line", string(line))
		case c := <-b.calls:
			if restart := b.exchange(proc, c); restart {
				return
			}
		}
	}
}

// exchange performs one request/response round trip. Returns true when the
// process must be restarted (crash or timeout).
func (b *Bridge) exchange(proc Process, c *call) bool {
	payload, err := json.Marshal(c.req)
	if err != nil {
		c.result <- callResult{err: fmt.Errorf("%w: %v", ErrValidation, err)}
		return false
	}

	if err := proc.Send(payload); err != nil {
		b.logger.Error("failed to write request to worker", "error", err)
		c.result <- callResult{err: fmt.Errorf("%w: %v", ErrProcessExited, err)}
		return true
	}

	timer := time.NewTimer(b.config.RequestTimeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-proc.Lines():
			if !ok {
				c.result <- callResult{err: ErrProcessExited}
				return true
			}
			var resp wireResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				b.logger.Warn("unparseable response line", "line", string(line))
				continue
			}
			if resp.isReady() {
				// Duplicate readiness after an internal worker reload.
				continue
			}
			if !resp.Success {
				msg := "unknown worker error"
				code := ""
				if resp.Error != nil {
					msg = resp.Error.Message
					code = resp.Error.Code
				}
				c.result <- callResult{err: fmt.Errorf("%w: %s (%s)", ErrWorkerFailed, msg, code)}
				return false
			}
			c.result <- callResult{resp: &resp}
			return false
		case <-proc.Done():
			b.logger.Error("worker process exited mid-request")
			c.result <- callResult{err: ErrProcessExited}
			return true
		case <-timer.C:
			// Kill the wedged process so the orphaned response can never
			// be mistaken for a later request's answer.
			b.timeouts.Add(1)
			if b.timeoutHook != nil {
				b.timeoutHook()
			}
			b.logger.Error("worker request timed out, restarting process",
				"timeout", b.config.RequestTimeout)
			c.result <- callResult{err: fmt.Errorf("%w after %s", ErrTimeout, b.config.RequestTimeout)}
			return true
		case <-b.ctx.Done():
			c.result <- callResult{err: ErrBridgeClosed}
			return false
		}
	}
}

// isRetryable reports whether a failed attempt should consume another try.
// Process crashes fail the in-flight request immediately; the restarted
// process serves the next queued request instead.
func isRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrWorkerFailed)
}

// backoffDelay computes capped exponential backoff: base * 2^attempt.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > limit || delay <= 0 {
		return limit
	}
	return delay
}

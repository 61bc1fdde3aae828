package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/advisor-api/internal/bridge"
	"github.com/admitly/advisor-api/internal/cache"
	"github.com/admitly/advisor-api/internal/events"
)

// Common errors returned by the queue.
var (
	ErrQueueFull    = errors.New("job queue is full")
	ErrQueueClosed  = errors.New("job queue is closed")
	ErrAwaitTimeout = errors.New("timed out waiting for job completion")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobStalled   = errors.New("job processor died and requeue budget is exhausted")
)

// Bridge is the narrow worker-bridge capability the queue depends on,
// satisfied by *bridge.Bridge and by fakes in tests.
type Bridge interface {
	Query(ctx context.Context, req bridge.Request) (*bridge.Answer, error)
}

// Observer receives pipeline instrumentation callbacks. Satisfied by
// *metrics.Collector; a nil observer is replaced with a no-op.
type Observer interface {
	JobSubmitted()
	JobStarted()
	JobCompleted(latency time.Duration)
	JobFailed(latency time.Duration)
	JobStalled()
	SetQueueDepth(n int)
	CacheHit()
	CacheMiss()
}

// nopObserver is the default Observer.
type nopObserver struct{}

func (nopObserver) JobSubmitted()                 {}
func (nopObserver) JobStarted()                   {}
func (nopObserver) JobCompleted(time.Duration)    {}
func (nopObserver) JobFailed(time.Duration)       {}
func (nopObserver) JobStalled()                   {}
func (nopObserver) SetQueueDepth(int)             {}
func (nopObserver) CacheHit()                     {}
func (nopObserver) CacheMiss()                    {}

// Config holds configuration for the job queue.
type Config struct {
	// WorkerCount determines how many concurrent processors pull jobs.
	// The bridge serializes to a single in-flight worker request, so
	// concurrency above 1 overlaps cache lookups and queueing overhead
	// rather than true worker parallelism.
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory job queue.
	QueueSize int

	// JobRetention is how long terminal jobs stay retrievable before
	// garbage collection.
	JobRetention time.Duration

	// GCInterval is how often terminal jobs are swept. Defaults to one
	// minute when zero.
	GCInterval time.Duration

	// DefaultAwaitTimeout applies when Await is called without a timeout.
	DefaultAwaitTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:         3,
		QueueSize:           100,
		JobRetention:        5 * time.Minute,
		GCInterval:          time.Minute,
		DefaultAwaitTimeout: 35 * time.Second,
	}
}

// Queue decouples "a query arrived" from "a query was answered": it accepts
// submitted queries as jobs, processes them with bounded concurrency,
// consults the response cache before invoking the worker bridge, and
// reports outcomes to callers asynchronously through handles.
type Queue struct {
	bridge   Bridge
	cache    *cache.Cache
	store    JobStore
	emitter  events.EventEmitter
	observer Observer
	config   Config
	logger   *slog.Logger

	jobs chan *Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue. emitter may be nil when no progress events are
// wanted. Call Start to begin processing.
func New(
	b Bridge,
	c *cache.Cache,
	store JobStore,
	emitter events.EventEmitter,
	config Config,
	logger *slog.Logger,
) *Queue {
	if config.WorkerCount < 1 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.GCInterval <= 0 {
		config.GCInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		bridge:   b,
		cache:    c,
		store:    store,
		emitter:  emitter,
		observer: nopObserver{},
		config:   config,
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetObserver registers an instrumentation observer. Must be called before
// Start.
func (q *Queue) SetObserver(obs Observer) {
	if obs != nil {
		q.observer = obs
	}
}

// Start launches the processor goroutines and the terminal-job sweeper.
func (q *Queue) Start() {
	for i := 0; i < q.config.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.gcLoop()
}

// Stop shuts the queue down. In-flight jobs finish their current bridge
// call or are abandoned when the bridge itself stops.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Submit enqueues a query as a job. It never blocks the caller beyond
// lightweight bookkeeping; a full queue is an immediate error.
func (q *Queue) Submit(ctx context.Context, req Request) (*Handle, error) {
	if err := q.ctx.Err(); err != nil {
		return nil, ErrQueueClosed
	}

	job := newJob(req)
	q.store.Save(job)

	select {
	case q.jobs <- job:
	default:
		q.store.Delete(job.ID())
		return nil, fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(q.jobs))
	}

	q.observer.JobSubmitted()
	q.observer.SetQueueDepth(len(q.jobs))
	q.logger.Debug("job enqueued",
		"job_id", job.ID(),
		"caller_id", req.CallerID,
		"queue_len", len(q.jobs),
		"queue_cap", cap(q.jobs))

	return &Handle{ID: job.ID(), job: job}, nil
}

// Await blocks until the job reaches a terminal state or the timeout
// elapses. Timing out does not cancel the job: it keeps running in the
// background and its result stays retrievable until retention GC.
func (q *Queue) Await(ctx context.Context, h *Handle, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = q.config.DefaultAwaitTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.Done():
		snap := h.Snapshot()
		if snap.State == StateFailed {
			return nil, snap.Err
		}
		return snap.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrAwaitTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitAndAwait is the inbound boundary operation: enqueue a query and
// wait for its outcome within the caller-supplied timeout.
func (q *Queue) SubmitAndAwait(ctx context.Context, req Request, timeout time.Duration) (*Result, error) {
	handle, err := q.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return q.Await(ctx, handle, timeout)
}

// Job returns the immutable snapshot of a registered job.
func (q *Queue) Job(id uuid.UUID) (Snapshot, error) {
	job, ok := q.store.Get(id)
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// worker is one processor loop pulling jobs from the queue buffer.
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.logger.Debug("starting queue processor", "processor_id", id)
	for {
		select {
		case <-q.ctx.Done():
			q.logger.Debug("stopping queue processor", "processor_id", id)
			return
		case job := <-q.jobs:
			q.observer.SetQueueDepth(len(q.jobs))
			q.process(job, id)
		}
	}
}

// process executes one job: cache lookup, bridge call, cache store, and
// terminal state transition. A panicking processor counts as a stall: the
// job is requeued exactly once, then failed.
func (q *Queue) process(job *Job, processorID int) {
	defer func() {
		if r := recover(); r != nil {
			q.handleStall(job, r)
		}
	}()

	logger := q.logger.With(
		"job_id", job.ID(),
		"processor_id", processorID,
	)

	if !job.markActive() {
		logger.Warn("skipping job already in terminal state")
		return
	}
	q.observer.JobStarted()
	q.reportProgress(job, ProgressStarted)
	logger.Info("processing job")

	// Requests with prior-turn context bypass the cache: the history
	// changes the correct answer, so caching would be unsound.
	useCache := q.cache.Enabled() && len(job.request.History) == 0

	var fingerprint string
	if useCache {
		fingerprint = cache.Fingerprint(job.request.Query)
		if entry, ok := q.cache.Get(q.ctx, fingerprint); ok {
			q.observer.CacheHit()
			q.reportProgress(job, ProgressComplete)
			job.complete(&Result{
				Answer:  entry.Answer,
				Sources: entry.Sources,
				Cached:  true,
				Elapsed: job.latency(),
			})
			q.observer.JobCompleted(job.latency())
			logger.Info("job served from cache")
			return
		}
		q.observer.CacheMiss()
	}

	q.reportProgress(job, ProgressInvokingWorker)

	answer, err := q.bridge.Query(q.ctx, bridge.Request{
		Query:    job.request.Query,
		CallerID: job.request.CallerID,
		History:  job.request.History,
	})
	if err != nil {
		latency := job.latency()
		job.fail(err)
		q.reportProgress(job, ProgressFailed)
		q.observer.JobFailed(latency)
		logger.Error("job failed", "error", err)
		return
	}

	if useCache {
		q.cache.Set(q.ctx, fingerprint, &cache.Entry{
			Answer:  answer.Text,
			Sources: answer.Sources,
		})
	}

	q.reportProgress(job, ProgressComplete)
	job.complete(&Result{
		Answer:  answer.Text,
		Sources: answer.Sources,
		Cached:  false,
		Elapsed: answer.Elapsed,
	})
	q.observer.JobCompleted(job.latency())
	logger.Info("job completed", "elapsed", answer.Elapsed)
}

// handleStall requeues a job whose processor died, once; a second stall is
// a terminal failure.
func (q *Queue) handleStall(job *Job, cause interface{}) {
	q.logger.Error("job processor panicked",
		"job_id", job.ID(),
		"panic", cause)
	q.observer.JobStalled()

	if job.requeueOnce() {
		select {
		case q.jobs <- job:
			q.logger.Warn("stalled job requeued", "job_id", job.ID())
			return
		default:
			q.logger.Error("failed to requeue stalled job, queue is full",
				"job_id", job.ID())
		}
	}

	latency := job.latency()
	if job.fail(fmt.Errorf("%w: %v", ErrJobStalled, cause)) {
		q.observer.JobFailed(latency)
	}
}

// reportProgress records the stage on the job and emits a progress event.
func (q *Queue) reportProgress(job *Job, stage string) {
	job.setProgress(stage)
	if q.emitter == nil {
		return
	}
	if err := q.emitter.EmitEvent(q.ctx, events.NewJobProgressEvent(job.ID(), stage)); err != nil {
		q.logger.Debug("progress event emission failed",
			"job_id", job.ID(),
			"stage", stage,
			"error", err)
	}
}

// gcLoop periodically sweeps terminal jobs past the retention window.
func (q *Queue) gcLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if removed := q.store.SweepTerminal(q.config.JobRetention); removed > 0 {
				q.logger.Debug("garbage collected terminal jobs", "removed", removed)
			}
		}
	}
}

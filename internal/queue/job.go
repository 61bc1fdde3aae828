package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/advisor-api/internal/bridge"
)

// State represents the current lifecycle state of a job.
type State string

// Possible job states. A job moves waiting → active → {completed | failed}.
// The terminal state is set exactly once. A stalled job (its processor died
// mid-flight) is requeued once and re-enters the active state.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Progress stage identifiers. Within the life of a single job, progress
// updates are monotonic and strictly ordered.
const (
	ProgressStarted        = "started"
	ProgressInvokingWorker = "invoking_worker"
	ProgressComplete       = "complete"
	ProgressFailed         = "failed"
)

// Request is a caller's submission to the queue.
type Request struct {
	Query     string
	CallerID  string
	SessionID string
	History   []bridge.Turn
}

// Result is the successful outcome of a job.
type Result struct {
	Answer  string
	Sources []string
	Cached  bool
	Elapsed time.Duration
}

// Job is one submitted query's unit of asynchronous work. It is exclusively
// owned by the queue for its lifetime; callers hold only a Handle and see
// immutable snapshots.
type Job struct {
	id        uuid.UUID
	request   Request
	createdAt time.Time

	mu        sync.Mutex
	state     State
	progress  string
	requeues  int
	startedAt time.Time
	result    *Result
	failure   error

	done chan struct{}
}

func newJob(req Request) *Job {
	return &Job{
		id:        uuid.New(),
		request:   req,
		createdAt: time.Now(),
		state:     StateWaiting,
		done:      make(chan struct{}),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// markActive transitions the job to the active state. Returns false when
// the job is already terminal.
func (j *Job) markActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCompleted || j.state == StateFailed {
		return false
	}
	j.state = StateActive
	if j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
	return true
}

// setProgress records the stage the job has reached.
func (j *Job) setProgress(stage string) {
	j.mu.Lock()
	j.progress = stage
	j.mu.Unlock()
}

// complete sets the successful terminal state. The first terminal
// transition wins; later calls are ignored.
func (j *Job) complete(result *Result) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCompleted || j.state == StateFailed {
		return false
	}
	j.state = StateCompleted
	j.result = result
	close(j.done)
	return true
}

// fail sets the failed terminal state. The first terminal transition wins.
func (j *Job) fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCompleted || j.state == StateFailed {
		return false
	}
	j.state = StateFailed
	j.failure = err
	close(j.done)
	return true
}

// requeueOnce marks the job for one automatic requeue after a stall.
// Returns false when the requeue budget is already spent.
func (j *Job) requeueOnce() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCompleted || j.state == StateFailed {
		return false
	}
	if j.requeues >= 1 {
		return false
	}
	j.requeues++
	j.state = StateWaiting
	return true
}

// latency reports time from first activation to now. Used for terminal
// metrics.
func (j *Job) latency() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() {
		return 0
	}
	return time.Since(j.startedAt)
}

// terminal reports whether the job has reached a terminal state, and when.
func (j *Job) terminalState() (State, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCompleted || j.state == StateFailed {
		return j.state, true
	}
	return j.state, false
}

// Snapshot is an immutable view of a job's state exposed to callers.
type Snapshot struct {
	ID        uuid.UUID
	State     State
	Progress  string
	CreatedAt time.Time
	Result    *Result
	Err       error
}

// Snapshot returns an immutable copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		ID:        j.id,
		State:     j.state,
		Progress:  j.progress,
		CreatedAt: j.createdAt,
		Err:       j.failure,
	}
	if j.result != nil {
		r := *j.result
		snap.Result = &r
	}
	return snap
}

// Handle is the caller's reference to a submitted job: its id plus a
// completion future. The job itself stays owned by the queue.
type Handle struct {
	ID  uuid.UUID
	job *Job
}

// Done returns a channel closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.job.done
}

// Snapshot returns the job's current immutable snapshot.
func (h *Handle) Snapshot() Snapshot {
	return h.job.Snapshot()
}

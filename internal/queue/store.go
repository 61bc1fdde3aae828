package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStore defines the interface for the queue-owned job registry. Its
// lifecycle is tied to the queue's own start/stop; there is no ambient
// global job state.
type JobStore interface {
	// Save registers a job.
	Save(job *Job)

	// Get returns the job with the given id.
	Get(id uuid.UUID) (*Job, bool)

	// Delete removes a job.
	Delete(id uuid.UUID)

	// SweepTerminal removes terminal jobs whose terminal state is older
	// than the retention window. Returns the number of removed jobs.
	SweepTerminal(retention time.Duration) int

	// Len reports the number of registered jobs.
	Len() int
}

// MemoryJobStore is the in-process JobStore implementation: a mutex-guarded
// map keyed by job id.
type MemoryJobStore struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*Job
	finished map[uuid.UUID]time.Time
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:     make(map[uuid.UUID]*Job),
		finished: make(map[uuid.UUID]time.Time),
	}
}

// Save registers a job.
func (s *MemoryJobStore) Save(job *Job) {
	s.mu.Lock()
	s.jobs[job.ID()] = job
	s.mu.Unlock()
}

// Get returns the job with the given id.
func (s *MemoryJobStore) Get(id uuid.UUID) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Delete removes a job.
func (s *MemoryJobStore) Delete(id uuid.UUID) {
	s.mu.Lock()
	delete(s.jobs, id)
	delete(s.finished, id)
	s.mu.Unlock()
}

// SweepTerminal removes terminal jobs retained longer than the retention
// window, so results stay briefly retrievable after completion and are then
// garbage collected.
func (s *MemoryJobStore) SweepTerminal(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, job := range s.jobs {
		if _, terminal := job.terminalState(); !terminal {
			continue
		}
		finishedAt, seen := s.finished[id]
		if !seen {
			// First sweep after the job finished: start the retention clock.
			s.finished[id] = now
			continue
		}
		if now.Sub(finishedAt) >= retention {
			delete(s.jobs, id)
			delete(s.finished, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of registered jobs.
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

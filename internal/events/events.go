package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobProgressEvent reports a job reaching a processing stage. Within a
// single job, events are emitted in the order the stages occur.
type JobProgressEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// JobID identifies the job the event belongs to
	JobID uuid.UUID `json:"job_id"`

	// Stage is the processing stage the job reached
	Stage string `json:"stage"`

	// At is the timestamp when the stage was reached
	At time.Time `json:"at"`
}

// NewJobProgressEvent creates a progress event for the given job and stage.
func NewJobProgressEvent(jobID uuid.UUID, stage string) *JobProgressEvent {
	return &JobProgressEvent{
		ID:    uuid.New(),
		JobID: jobID,
		Stage: stage,
		At:    time.Now(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobProgressEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the queue to publish progress without direct knowledge of
// handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *JobProgressEvent) error
}

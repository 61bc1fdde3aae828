package api

import (
	"time"

	"github.com/admitly/advisor-api/internal/bridge"
	"github.com/admitly/advisor-api/internal/queue"
)

// Turn is one prior conversation turn supplied by the client.
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// AskRequest is the request body for query submission, both synchronous
// and asynchronous.
type AskRequest struct {
	Query               string `json:"query" validate:"required"`
	UserID              string `json:"userId,omitempty"`
	SessionID           string `json:"sessionId,omitempty"`
	ConversationHistory []Turn `json:"conversationHistory,omitempty" validate:"omitempty,dive"`

	// TimeoutMs caps how long a synchronous ask waits for the answer.
	// Zero uses the server default.
	TimeoutMs int `json:"timeoutMs,omitempty" validate:"omitempty,min=100,max=300000"`
}

// toQueueRequest converts the API request into the queue's internal form.
func (req *AskRequest) toQueueRequest() queue.Request {
	history := make([]bridge.Turn, 0, len(req.ConversationHistory))
	for _, turn := range req.ConversationHistory {
		history = append(history, bridge.Turn{Role: turn.Role, Content: turn.Content})
	}
	return queue.Request{
		Query:     req.Query,
		CallerID:  req.UserID,
		SessionID: req.SessionID,
		History:   history,
	}
}

// AskResponse is the successful answer payload.
type AskResponse struct {
	JobID     string   `json:"jobId,omitempty"`
	Answer    string   `json:"answer"`
	Contexts  []string `json:"contexts"`
	Cached    bool     `json:"cached"`
	ElapsedMs int64    `json:"elapsedMs"`
}

func newAskResponse(result *queue.Result) AskResponse {
	contexts := result.Sources
	if contexts == nil {
		contexts = []string{}
	}
	return AskResponse{
		Answer:    result.Answer,
		Contexts:  contexts,
		Cached:    result.Cached,
		ElapsedMs: result.Elapsed.Milliseconds(),
	}
}

// JobSubmittedResponse acknowledges an asynchronous submission.
type JobSubmittedResponse struct {
	JobID string `json:"jobId"`
	State string `json:"state"`
}

// JobStatusResponse reports the current state of a job. Result is present
// only for completed jobs; Error only for failed ones.
type JobStatusResponse struct {
	JobID     string       `json:"jobId"`
	State     string       `json:"state"`
	Progress  string       `json:"progress,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	Result    *AskResponse `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func newJobStatusResponse(snap queue.Snapshot) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:     snap.ID.String(),
		State:     string(snap.State),
		Progress:  snap.Progress,
		CreatedAt: snap.CreatedAt,
	}
	if snap.Result != nil {
		result := newAskResponse(snap.Result)
		resp.Result = &result
	}
	if snap.Err != nil {
		resp.Error = GetSafeErrorMessage(snap.Err)
	}
	return resp
}

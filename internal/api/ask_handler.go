package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/admitly/advisor-api/internal/api/shared"
	"github.com/admitly/advisor-api/internal/queue"
)

// JobService is the queue capability the handlers depend on, satisfied by
// *queue.Queue and by fakes in tests.
type JobService interface {
	Submit(ctx context.Context, req queue.Request) (*queue.Handle, error)
	Await(ctx context.Context, h *queue.Handle, timeout time.Duration) (*queue.Result, error)
	Job(id uuid.UUID) (queue.Snapshot, error)
}

// AskHandler handles query submission and job status requests.
type AskHandler struct {
	service   JobService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewAskHandler creates a new AskHandler with its dependencies.
func NewAskHandler(service JobService, logger *slog.Logger) *AskHandler {
	return &AskHandler{
		service:   service,
		validator: validator.New(),
		logger:    logger.With("component", "ask_handler"),
	}
}

// Ask handles POST /api/ask: submit a query and wait for its answer.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.With("trace_id", shared.GetTraceID(ctx))

	req, ok := h.decodeAndValidate(w, r)
	if !ok {
		return
	}

	log.Debug("handling synchronous ask",
		"caller_id", req.UserID,
		"history_turns", len(req.ConversationHistory))

	handle, err := h.service.Submit(ctx, req.toQueueRequest())
	if err != nil {
		status, kind := MapErrorToStatusCode(err)
		log.Error("ask submission failed", "error", err, "status_code", status)
		shared.RespondWithError(w, r, status, kind, GetSafeErrorMessage(err))
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	result, err := h.service.Await(ctx, handle, timeout)
	if err != nil {
		status, kind := MapErrorToStatusCode(err)
		log.Error("ask failed", "error", err, "status_code", status, "job_id", handle.ID)

		// The job keeps running after an await timeout; hand the caller its
		// id so the result can still be fetched.
		shared.RespondWithJSON(w, r, status, shared.ErrorResponse{
			Error:   GetSafeErrorMessage(err),
			Kind:    kind,
			TraceID: shared.GetTraceID(ctx),
			JobID:   handle.ID.String(),
		})
		return
	}

	resp := newAskResponse(result)
	resp.JobID = handle.ID.String()
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// SubmitJob handles POST /api/jobs: enqueue a query and return immediately.
func (h *AskHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.With("trace_id", shared.GetTraceID(ctx))

	req, ok := h.decodeAndValidate(w, r)
	if !ok {
		return
	}

	handle, err := h.service.Submit(ctx, req.toQueueRequest())
	if err != nil {
		status, kind := MapErrorToStatusCode(err)
		log.Error("job submission failed", "error", err, "status_code", status)
		shared.RespondWithError(w, r, status, kind, GetSafeErrorMessage(err))
		return
	}

	log.Info("job accepted", "job_id", handle.ID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobSubmittedResponse{
		JobID: handle.ID.String(),
		State: string(queue.StateWaiting),
	})
}

// GetJob handles GET /api/jobs/{id}: report a job's current state.
func (h *AskHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("trace_id", shared.GetTraceID(r.Context()))

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, KindValidation,
			"Invalid job ID format")
		return
	}

	snap, err := h.service.Job(id)
	if err != nil {
		status, kind := MapErrorToStatusCode(err)
		log.Debug("job lookup failed", "job_id", id, "error", err)
		shared.RespondWithError(w, r, status, kind, GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newJobStatusResponse(snap))
}

// decodeAndValidate parses and validates the request body, writing the
// error response itself on failure.
func (h *AskHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request) (*AskRequest, bool) {
	var req AskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		h.logger.Debug("failed to decode request body", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, KindValidation,
			"Invalid request format")
		return nil, false
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Debug("request validation failed", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, KindValidation,
			"Invalid request: "+err.Error())
		return nil, false
	}

	return &req, true
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitly/advisor-api/internal/api/shared"
	"github.com/admitly/advisor-api/internal/queue"
)

// fakeJobService scripts the queue behavior for handler tests.
type fakeJobService struct {
	submitHandle *queue.Handle
	submitErr    error
	awaitResult  *queue.Result
	awaitErr     error
	snapshot     queue.Snapshot
	snapshotErr  error

	lastRequest queue.Request
	lastTimeout time.Duration
}

func (f *fakeJobService) Submit(_ context.Context, req queue.Request) (*queue.Handle, error) {
	f.lastRequest = req
	if f.submitHandle == nil && f.submitErr == nil {
		f.submitHandle = &queue.Handle{ID: uuid.New()}
	}
	return f.submitHandle, f.submitErr
}

func (f *fakeJobService) Await(_ context.Context, _ *queue.Handle, timeout time.Duration) (*queue.Result, error) {
	f.lastTimeout = timeout
	return f.awaitResult, f.awaitErr
}

func (f *fakeJobService) Job(uuid.UUID) (queue.Snapshot, error) {
	return f.snapshot, f.snapshotErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(service JobService) http.Handler {
	h := NewAskHandler(service, discardLogger())
	r := chi.NewRouter()
	r.Post("/api/ask", h.Ask)
	r.Post("/api/jobs", h.SubmitJob)
	r.Get("/api/jobs/{id}", h.GetJob)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAskSuccess(t *testing.T) {
	t.Parallel()

	service := &fakeJobService{
		awaitResult: &queue.Result{
			Answer:  "the answer",
			Sources: []string{"source-1"},
			Cached:  true,
			Elapsed: 1500 * time.Millisecond,
		},
	}
	router := newTestRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/api/ask", AskRequest{
		Query:     "what gives",
		UserID:    "user-7",
		TimeoutMs: 5000,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, service.submitHandle.ID.String(), resp.JobID)
	assert.Equal(t, "the answer", resp.Answer)
	assert.Equal(t, []string{"source-1"}, resp.Contexts)
	assert.True(t, resp.Cached)
	assert.Equal(t, int64(1500), resp.ElapsedMs)

	assert.Equal(t, "what gives", service.lastRequest.Query)
	assert.Equal(t, "user-7", service.lastRequest.CallerID)
	assert.Equal(t, 5*time.Second, service.lastTimeout)
}

func TestAskForwardsConversationHistory(t *testing.T) {
	t.Parallel()

	service := &fakeJobService{awaitResult: &queue.Result{Answer: "ok"}}
	router := newTestRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/api/ask", AskRequest{
		Query: "follow up",
		ConversationHistory: []Turn{
			{Role: "user", Content: "original question"},
			{Role: "assistant", Content: "original answer"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, service.lastRequest.History, 2)
	assert.Equal(t, "user", service.lastRequest.History[0].Role)
	assert.Equal(t, "original answer", service.lastRequest.History[1].Content)
}

func TestAskRejectsMissingQuery(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeJobService{})

	rec := doJSON(t, router, http.MethodPost, "/api/ask", AskRequest{UserID: "user-7"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, KindValidation, resp.Kind)
}

func TestAskRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeJobService{})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"await timeout", queue.ErrAwaitTimeout, http.StatusGatewayTimeout, KindTimeout},
		{"queue full", queue.ErrQueueFull, http.StatusServiceUnavailable, KindQueueFull},
		{"internal", assert.AnError, http.StatusInternalServerError, KindInternal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(&fakeJobService{awaitErr: fmt.Errorf("wrapped: %w", tc.err)})

			rec := doJSON(t, router, http.MethodPost, "/api/ask", AskRequest{Query: "q"})
			require.Equal(t, tc.wantStatus, rec.Code)

			var resp shared.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantKind, resp.Kind)
			assert.NotEmpty(t, resp.JobID, "await failures must expose the job id")
		})
	}
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	service := &fakeJobService{submitHandle: &queue.Handle{ID: jobID}}
	router := newTestRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", AskRequest{Query: "async question"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp JobSubmittedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID.String(), resp.JobID)
	assert.Equal(t, string(queue.StateWaiting), resp.State)
}

func TestSubmitJobQueueFull(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeJobService{submitErr: queue.ErrQueueFull})

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", AskRequest{Query: "q"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetJobCompleted(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	service := &fakeJobService{snapshot: queue.Snapshot{
		ID:        jobID,
		State:     queue.StateCompleted,
		Progress:  queue.ProgressComplete,
		CreatedAt: time.Now(),
		Result:    &queue.Result{Answer: "done", Elapsed: time.Second},
	}}
	router := newTestRouter(service)

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/"+jobID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID.String(), resp.JobID)
	assert.Equal(t, string(queue.StateCompleted), resp.State)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "done", resp.Result.Answer)
	assert.Empty(t, resp.Error)
}

func TestGetJobFailed(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	service := &fakeJobService{snapshot: queue.Snapshot{
		ID:       jobID,
		State:    queue.StateFailed,
		Progress: queue.ProgressFailed,
		Err:      queue.ErrJobStalled,
	}}
	router := newTestRouter(service)

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/"+jobID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(queue.StateFailed), resp.State)
	assert.NotEmpty(t, resp.Error)
	assert.Nil(t, resp.Result)
}

func TestGetJobInvalidID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeJobService{})

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeJobService{snapshotErr: queue.ErrJobNotFound})

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

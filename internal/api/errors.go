package api

import (
	"errors"
	"net/http"

	"github.com/admitly/advisor-api/internal/bridge"
	"github.com/admitly/advisor-api/internal/queue"
)

// Error kinds exposed to clients. These are stable machine-readable
// identifiers; the numeric HTTP status may be shared between kinds.
const (
	KindValidation   = "validation"
	KindTimeout      = "timeout"
	KindWorkerFailed = "worker_failed"
	KindQueueFull    = "queue_full"
	KindNotFound     = "not_found"
	KindInternal     = "internal"
)

// MapErrorToStatusCode maps pipeline errors to the appropriate HTTP status
// code and error kind.
func MapErrorToStatusCode(err error) (int, string) {
	switch {
	case errors.Is(err, bridge.ErrValidation):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, queue.ErrAwaitTimeout), errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout, KindTimeout
	case errors.Is(err, bridge.ErrWorkerFailed), errors.Is(err, bridge.ErrProcessExited):
		return http.StatusBadGateway, KindWorkerFailed
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable, KindQueueFull
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, queue.ErrQueueClosed), errors.Is(err, bridge.ErrBridgeClosed):
		return http.StatusServiceUnavailable, KindInternal
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// GetSafeErrorMessage returns a client-safe message for the given error.
// Validation errors carry their own wording; everything else gets a generic
// message per kind so internal details never leak to clients.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, bridge.ErrValidation):
		return err.Error()
	case errors.Is(err, queue.ErrAwaitTimeout):
		return "Timed out waiting for the answer. The job may still complete; poll its status."
	case errors.Is(err, bridge.ErrTimeout):
		return "The worker did not answer in time. Please try again."
	case errors.Is(err, bridge.ErrWorkerFailed), errors.Is(err, bridge.ErrProcessExited):
		return "The worker failed to process the request. Please try again."
	case errors.Is(err, queue.ErrQueueFull):
		return "The service is at capacity. Please try again shortly."
	case errors.Is(err, queue.ErrJobNotFound):
		return "Job not found."
	case errors.Is(err, queue.ErrQueueClosed), errors.Is(err, bridge.ErrBridgeClosed):
		return "The service is shutting down."
	default:
		return "An unexpected error occurred."
	}
}

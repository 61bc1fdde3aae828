package bridge

import "errors"

// Sentinel errors returned by Query. Callers classify failures with
// errors.Is; messages wrapped around them carry the detail.
var (
	// ErrValidation indicates malformed or oversized input. Never retried,
	// never reaches the worker.
	ErrValidation = errors.New("invalid query")

	// ErrWorkerFailed indicates the worker ran and returned an explicit
	// error payload. Retried up to the attempt limit.
	ErrWorkerFailed = errors.New("worker returned an error")

	// ErrTimeout indicates the worker did not respond within the request
	// budget. The process is killed and restarted; retried up to the
	// attempt limit.
	ErrTimeout = errors.New("worker request timed out")

	// ErrProcessExited indicates the worker process died while the request
	// was in flight. The request fails immediately and the process is
	// restarted for subsequent callers.
	ErrProcessExited = errors.New("worker process exited")

	// ErrBridgeClosed indicates the bridge has been stopped.
	ErrBridgeClosed = errors.New("bridge is closed")
)

// Package bridge mediates request/response exchange with the external
// answer-generation worker process. It owns the lifecycle of exactly one
// worker, serializes one request at a time over a line-oriented JSON
// protocol, enforces per-request timeouts, and transparently restarts the
// process on crash or hang.
package bridge

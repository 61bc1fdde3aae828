// Package api provides HTTP handlers for the request processing pipeline:
// synchronous and asynchronous query submission, job status retrieval, and
// health probes.
package api

// Package queue implements the asynchronous job queue at the heart of the
// request processing pipeline: bounded-concurrency processors, response
// cache integration, stall recovery, and future-style completion handles.
package queue

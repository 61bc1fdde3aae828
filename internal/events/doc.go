// Package events provides a minimal event emission mechanism used by the
// job queue to publish per-job progress updates to interested components
// (logging, metrics) without coupling to them.
package events

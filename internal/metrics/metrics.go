// Package metrics collects and exposes Prometheus metrics for the request
// processing pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/admitly/advisor-api/internal/events"
)

// Collector holds the pipeline's Prometheus metrics. It owns its registry
// so tests can create isolated instances.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobStages     *prometheus.CounterVec

	jobLatency   prometheus.Histogram
	jobsInFlight prometheus.Gauge
	queueDepth   prometheus.Gauge

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	workerRestarts prometheus.Counter
	workerTimeouts prometheus.Counter
}

// NewCollector creates and registers the pipeline metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_submitted_total",
			Help: "Total number of jobs submitted to the queue",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_failed_total",
			Help: "Total number of jobs that reached a terminal failure",
		}),
		jobStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_job_stage_total",
			Help: "Job progress stage transitions",
		}, []string{"stage"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_job_latency_seconds",
			Help:    "Job processing latency from activation to terminal state",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_jobs_in_flight",
			Help: "Number of jobs currently being processed",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Number of jobs waiting in the queue buffer",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_restarts_total",
			Help: "Total number of worker process restarts",
		}),
		workerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_worker_timeouts_total",
			Help: "Total number of worker request timeouts",
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted, c.jobsCompleted, c.jobsFailed, c.jobStages,
		c.jobLatency, c.jobsInFlight, c.queueDepth,
		c.cacheHits, c.cacheMisses,
		c.workerRestarts, c.workerTimeouts,
	)
	return c
}

// Handler returns the HTTP handler exposing the metrics in Prometheus
// text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobSubmitted records a queue submission.
func (c *Collector) JobSubmitted() { c.jobsSubmitted.Inc() }

// JobStarted records a processor picking up a job.
func (c *Collector) JobStarted() { c.jobsInFlight.Inc() }

// JobCompleted records a successful terminal state and its latency.
func (c *Collector) JobCompleted(latency time.Duration) {
	c.jobsInFlight.Dec()
	c.jobsCompleted.Inc()
	c.jobLatency.Observe(latency.Seconds())
}

// JobFailed records a failed terminal state and its latency.
func (c *Collector) JobFailed(latency time.Duration) {
	c.jobsInFlight.Dec()
	c.jobsFailed.Inc()
	c.jobLatency.Observe(latency.Seconds())
}

// JobStalled records a processor dying mid-job; the job leaves the
// in-flight set without reaching a terminal state yet.
func (c *Collector) JobStalled() { c.jobsInFlight.Dec() }

// SetQueueDepth records the number of jobs waiting in the queue buffer.
func (c *Collector) SetQueueDepth(n int) { c.queueDepth.Set(float64(n)) }

// CacheHit records a response cache hit.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss records a response cache miss.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// WorkerRestarted records a worker process restart.
func (c *Collector) WorkerRestarted() { c.workerRestarts.Inc() }

// WorkerTimeout records a worker request timeout.
func (c *Collector) WorkerTimeout() { c.workerTimeouts.Inc() }

// HandleEvent implements events.EventHandler, counting job stage
// transitions.
func (c *Collector) HandleEvent(_ context.Context, event *events.JobProgressEvent) error {
	c.jobStages.WithLabelValues(event.Stage).Inc()
	return nil
}

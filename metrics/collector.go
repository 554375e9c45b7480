// Package metrics exposes queue and circuit breaker state as Prometheus
// metrics.
package metrics

import (
	"sync/atomic"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values of the jobs counter.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
	OutcomeCancelled = "cancelled"
)

// Collector is a prometheus.Collector for one queue and its breakers.
// Gauges are read from snapshots at scrape time; counters and the latency
// histogram are fed by the hooks returned from Hooks.
type Collector struct {
	queue    atomic.Pointer[adaptq.Queue]
	breakers atomic.Pointer[adaptq.Breakers]

	active   *prometheus.Desc
	pending  *prometheus.Desc
	retrying *prometheus.Desc
	limit    *prometheus.Desc
	paused   *prometheus.Desc

	breakerState    *prometheus.Desc
	breakerRequests *prometheus.Desc

	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		active:          desc("queue_active_jobs", "Number of jobs currently running"),
		pending:         desc("queue_pending_jobs", "Number of jobs waiting in the backlog"),
		retrying:        desc("queue_retrying_jobs", "Number of jobs waiting for a retry delay"),
		limit:           desc("queue_concurrency_limit", "Current adaptive concurrency limit"),
		paused:          desc("queue_paused", "1 if dispatch is paused"),
		breakerState:    desc("breaker_state", "Circuit state: 0 closed, 1 half-open, 2 open", "dependency"),
		breakerRequests: desc("breaker_requests_total", "Requests admitted by the circuit breaker", "dependency"),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Job attempts by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of settled job attempts in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
}

// Watch makes q the queue reported by the gauges.
func (c *Collector) Watch(q *adaptq.Queue) { c.queue.Store(q) }

// WatchBreakers makes b the registry reported by the breaker metrics.
func (c *Collector) WatchBreakers(b *adaptq.Breakers) { c.breakers.Store(b) }

// Hooks returns queue hooks that feed the job counters and histogram.
func (c *Collector) Hooks() adaptq.Hooks {
	return adaptq.Hooks{
		OnJobComplete: func(job *adaptq.Job, _ any) {
			c.settled(job, OutcomeSucceeded)
		},
		OnJobError: func(job *adaptq.Job, _ error) {
			c.settled(job, OutcomeFailed)
		},
		OnJobRetry: func(job *adaptq.Job, _ int, _ error) {
			c.jobs.WithLabelValues(job.Type, OutcomeRetried).Inc()
		},
		OnJobCancel: func(job *adaptq.Job) {
			c.jobs.WithLabelValues(job.Type, OutcomeCancelled).Inc()
		},
	}
}

func (c *Collector) settled(job *adaptq.Job, outcome string) {
	c.jobs.WithLabelValues(job.Type, outcome).Inc()
	if !job.StartedAt.IsZero() && !job.FinishedAt.IsZero() {
		c.duration.WithLabelValues(job.Type).Observe(job.FinishedAt.Sub(job.StartedAt).Seconds())
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.pending
	ch <- c.retrying
	ch <- c.limit
	ch <- c.paused
	ch <- c.breakerState
	ch <- c.breakerRequests
	c.jobs.Describe(ch)
	c.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if q := c.queue.Load(); q != nil {
		st := q.State()
		paused := 0.0
		if st.Paused {
			paused = 1
		}
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(st.Active))
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
		ch <- prometheus.MustNewConstMetric(c.retrying, prometheus.GaugeValue, float64(st.Retrying))
		ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(st.Limit))
		ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused)
	}
	if b := c.breakers.Load(); b != nil {
		for _, s := range b.Stats() {
			ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, float64(s.State), s.Name)
			ch <- prometheus.MustNewConstMetric(c.breakerRequests, prometheus.CounterValue, float64(s.TotalRequests), s.Name)
		}
	}
	c.jobs.Collect(ch)
	c.duration.Collect(ch)
}

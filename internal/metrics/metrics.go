// Package metrics provides the runner's Prometheus instrumentation. Every
// executor pool and recovery loop reports through a single Collector so a
// host process can scrape one namespace ("cloacina_") regardless of which
// storage backend or scheduler policy is configured underneath.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the runner updates during pipeline
// execution. All counters and histograms are safe for concurrent use, as
// prometheus client types already serialize their own updates; the
// enabled flag is guarded separately so Disable/Enable can be called from
// tests without racing a concurrent executor pool.
type Collector struct {
	tasksInFlight prometheus.Gauge
	outboxDepth   prometheus.Gauge

	claimLatency prometheus.Histogram
	taskLatency  *prometheus.HistogramVec

	retries    *prometheus.CounterVec
	recoveries *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New registers the runner's metrics with registry and returns a Collector.
// Pass prometheus.DefaultRegisterer to use the global registry, or a fresh
// *prometheus.Registry for test isolation.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		enabled: true,

		tasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloacina",
			Name:      "tasks_in_flight",
			Help:      "Number of tasks currently claimed and executing across the executor pool",
		}),
		outboxDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloacina",
			Name:      "outbox_depth",
			Help:      "Number of ready, unclaimed rows in the task outbox",
		}),
		claimLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cloacina",
			Name:      "claim_latency_ms",
			Help:      "Time from a task becoming ready to being claimed by an executor",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
		taskLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cloacina",
			Name:      "task_latency_ms",
			Help:      "Task execution duration from claim to terminal status",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		}, []string{"task_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloacina",
			Name:      "retries_total",
			Help:      "Cumulative count of task retry attempts scheduled",
		}, []string{"task_id", "reason"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloacina",
			Name:      "recoveries_total",
			Help:      "Cumulative count of orphaned task executions reclaimed after a crash",
		}, []string{"outcome"}),
	}
}

// SetTasksInFlight reports the executor pool's current concurrency.
func (c *Collector) SetTasksInFlight(count int) {
	if !c.isEnabled() {
		return
	}
	c.tasksInFlight.Set(float64(count))
}

// SetOutboxDepth reports the number of ready, unclaimed tasks.
func (c *Collector) SetOutboxDepth(depth int) {
	if !c.isEnabled() {
		return
	}
	c.outboxDepth.Set(float64(depth))
}

// ObserveClaimLatency records how long a claim took from ready to claimed.
func (c *Collector) ObserveClaimLatency(d time.Duration) {
	if !c.isEnabled() {
		return
	}
	c.claimLatency.Observe(float64(d.Milliseconds()))
}

// ObserveTaskLatency records a task's execution duration, labeled by its
// terminal status ("completed", "failed", "timeout", "cancelled").
func (c *Collector) ObserveTaskLatency(taskID, status string, d time.Duration) {
	if !c.isEnabled() {
		return
	}
	c.taskLatency.WithLabelValues(taskID, status).Observe(float64(d.Milliseconds()))
}

// IncRetry increments the retry counter for a task, labeled by the reason
// the attempt failed ("ExecutionFailed", "Timeout").
func (c *Collector) IncRetry(taskID, reason string) {
	if !c.isEnabled() {
		return
	}
	c.retries.WithLabelValues(taskID, reason).Inc()
}

// IncRecovery increments the recovery counter, labeled by outcome
// ("reclaimed", "exceeded").
func (c *Collector) IncRecovery(outcome string) {
	if !c.isEnabled() {
		return
	}
	c.recoveries.WithLabelValues(outcome).Inc()
}

// Disable stops all recording; existing metric values are left in place.
func (c *Collector) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// Enable resumes recording after Disable.
func (c *Collector) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

func (c *Collector) isEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

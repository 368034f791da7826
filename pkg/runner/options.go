package runner

import (
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/emit"
	"github.com/colliery-io/cloacina-sub003/internal/executor"
	"github.com/colliery-io/cloacina-sub003/internal/metrics"
	"github.com/colliery-io/cloacina-sub003/internal/recovery"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
	"github.com/colliery-io/cloacina-sub003/internal/trust"
)

type options struct {
	emitter       emit.Emitter
	metrics       *metrics.Collector
	failurePolicy scheduler.FailurePolicy

	concurrency    int
	batchSize      int
	pollInterval   time.Duration
	livenessWindow time.Duration

	recoverySweepInterval time.Duration
	recoveryCeiling       int
	heartbeatCachePath    string
	trustMaxDepth         int
	statusPollInterval    time.Duration
}

func defaultOptions() options {
	return options{
		failurePolicy:         scheduler.ContinueIndependent,
		concurrency:           8,
		batchSize:             10,
		pollInterval:          500 * time.Millisecond,
		livenessWindow:        30 * time.Second,
		recoverySweepInterval: 15 * time.Second,
		recoveryCeiling:       5,
		trustMaxDepth:         trust.DefaultMaxDepth,
		statusPollInterval:    200 * time.Millisecond,
	}
}

// Option configures a Runner at construction time.
type Option func(*options)

// WithEmitter sets the Emitter every component reports lifecycle events to
// (SPEC_FULL.md's ambient-stack observability section). Default a null
// emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithMetrics registers Prometheus metrics under the given collector.
// Default disabled.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithFailurePolicy sets the pipeline-level failure policy applied
// throughout the runner's lifetime: every scheduler, executor, and
// recovery component must agree (spec §9.1 Open Question). Default
// ContinueIndependent.
func WithFailurePolicy(p scheduler.FailurePolicy) Option {
	return func(o *options) { o.failurePolicy = p }
}

// WithConcurrency bounds the executor pool's in-flight task count. Default 8.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithBatchSize bounds how many outbox rows one claim transaction selects.
// Default 10.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithPollInterval sets how often the executor pool polls for ready work.
// Default 500ms.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLivenessWindow sets the heartbeat cadence and the orphan cutoff used
// by both the executor pool and the recovery sweep. Default 30s.
func WithLivenessWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.livenessWindow = d
		}
	}
}

// WithRecoverySweepInterval sets how often the recovery loop scans for
// orphaned tasks. Default 15s.
func WithRecoverySweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.recoverySweepInterval = d
		}
	}
}

// WithRecoveryCeiling sets the recovery_attempts ceiling past which an
// orphan is marked Failed instead of reclaimed. Default 5.
func WithRecoveryCeiling(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.recoveryCeiling = n
		}
	}
}

// WithHeartbeatCache enables the local bbolt-backed heartbeat mirror at
// path (SPEC_FULL.md §2.1 "worker heartbeat cache"). Disabled by default.
func WithHeartbeatCache(path string) Option {
	return func(o *options) { o.heartbeatCachePath = path }
}

// WithTrustMaxDepth overrides the trust-chain BFS depth bound used by
// package registration and load. Default trust.DefaultMaxDepth.
func WithTrustMaxDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.trustMaxDepth = n
		}
	}
}

// WithStatusPollInterval sets how often Execute polls pipeline status while
// waiting for completion, since no storage backend implements push
// notification (internal/storage.Capabilities.Notify is advisory only).
// Default 200ms.
func WithStatusPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statusPollInterval = d
		}
	}
}

func (o options) executorOptions() []executor.Option {
	opts := []executor.Option{
		executor.WithConcurrency(o.concurrency),
		executor.WithBatchSize(o.batchSize),
		executor.WithPollInterval(o.pollInterval),
		executor.WithLivenessWindow(o.livenessWindow),
		executor.WithFailurePolicy(o.failurePolicy),
	}
	return opts
}

func (o options) recoveryOptions() []recovery.Option {
	return []recovery.Option{
		recovery.WithLivenessWindow(o.livenessWindow),
		recovery.WithSweepInterval(o.recoverySweepInterval),
		recovery.WithRecoveryCeiling(o.recoveryCeiling),
		recovery.WithFailurePolicy(o.failurePolicy),
	}
}

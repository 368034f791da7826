package executor

import (
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/recovery/heartbeatcache"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
)

type options struct {
	concurrency    int
	batchSize      int
	pollInterval   time.Duration
	livenessWindow time.Duration
	failurePolicy  scheduler.FailurePolicy
	heartbeatCache *heartbeatcache.Cache
}

func defaultOptions() options {
	return options{
		concurrency:    8,
		batchSize:      10,
		pollInterval:   500 * time.Millisecond,
		livenessWindow: 30 * time.Second,
		failurePolicy:  scheduler.ContinueIndependent,
	}
}

// Option configures a Pool at construction time.
type Option func(*options)

// WithConcurrency bounds the number of tasks executing at once (spec
// §4.3 "Concurrency ceiling"). Default 8.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithBatchSize bounds how many outbox rows a single claim transaction
// selects (spec §4.2 "up to batch size N"). Default 10.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithPollInterval sets how often the pool claims when no push
// notification is available (spec §4.2 "Push vs poll"). Default 500ms.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLivenessWindow sets the heartbeat cadence and the window recovery
// uses to declare a claimed task orphaned (spec §4.4 "Heartbeats").
// Default 30s; the pool heartbeats at half this interval.
func WithLivenessWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.livenessWindow = d
		}
	}
}

// WithFailurePolicy sets what happens to sibling tasks when one fails
// terminally (spec §9.1 Open Question). Default ContinueIndependent.
func WithFailurePolicy(p scheduler.FailurePolicy) Option {
	return func(o *options) {
		o.failurePolicy = p
	}
}

// WithHeartbeatCache mirrors every storage heartbeat into a local
// process cache so liveness probes can answer without a storage round
// trip (SPEC_FULL.md §2.1 "worker heartbeat cache"). Optional; nil by
// default.
func WithHeartbeatCache(cache *heartbeatcache.Cache) Option {
	return func(o *options) {
		o.heartbeatCache = cache
	}
}

package recovery

import (
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
)

type options struct {
	livenessWindow  time.Duration
	sweepInterval   time.Duration
	recoveryCeiling int
	failurePolicy   scheduler.FailurePolicy
}

func defaultOptions() options {
	return options{
		livenessWindow:  30 * time.Second,
		sweepInterval:   15 * time.Second,
		recoveryCeiling: 5,
		failurePolicy:   scheduler.ContinueIndependent,
	}
}

// Option configures a Recoverer at construction time.
type Option func(*options)

// WithLivenessWindow sets how long a claimed task may go without a
// heartbeat before it is considered orphaned (spec §4.4 "Model"). Must
// match the executor pool's own WithLivenessWindow for the heartbeat
// cadence and the orphan cutoff to agree.
func WithLivenessWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.livenessWindow = d
		}
	}
}

// WithSweepInterval sets how often the recovery loop scans for orphans.
// Default 15s.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithRecoveryCeiling sets the recovery_attempts ceiling past which an
// orphan is marked Failed instead of reclaimed (spec §4.4 "If
// recovery_attempts exceeds a ceiling, the task is marked Failed").
// Default 5.
func WithRecoveryCeiling(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.recoveryCeiling = n
		}
	}
}

// WithFailurePolicy sets what happens to sibling tasks when a
// recovery-exceeded failure is applied (spec §9.1 Open Question); must
// match the value the executor pool and scheduler were configured with
// for one pipeline to have one consistent failure policy throughout its
// life. Default ContinueIndependent.
func WithFailurePolicy(p scheduler.FailurePolicy) Option {
	return func(o *options) {
		o.failurePolicy = p
	}
}

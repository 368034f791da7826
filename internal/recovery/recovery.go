// Package recovery implements the crash-recovery sweep: it periodically
// enumerates orphaned task executions (claimed or running with a stale
// heartbeat) and reclaims them back to Ready, or marks them Failed once
// their recovery_attempts ceiling is exceeded (spec §4.4 "Crash recovery").
package recovery

import (
	"context"
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/emit"
	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/metrics"
	"github.com/colliery-io/cloacina-sub003/internal/recovery/heartbeatcache"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// WorkflowLookup resolves a (workflow name, version) pair to its compiled
// DAG. Recovery needs it only for the recovery-exceeded path, to hand
// the scheduler the definition it needs to cascade a Skipped/Cancelled
// transition through dependents.
type WorkflowLookup interface {
	Workflow(name, version string) (*workflow.Workflow, bool)
}

// Recoverer runs the periodic orphan sweep. Any number of instances (in
// one process or many) may run concurrently against the same storage
// backend: storage.Storage.RecoverTask is the sole mutator for the
// reclaim-to-Ready path and treats a task no longer Claimed or Running as
// an idempotent no-op, so two sweeps racing the same orphan never
// double-recover it.
type Recoverer struct {
	store     storage.Storage
	scheduler *scheduler.Scheduler
	workflows WorkflowLookup
	emitter   emit.Emitter
	metrics   *metrics.Collector
	cache     *heartbeatcache.Cache
	opts      options
}

// New constructs a Recoverer over store. sch and workflows are used only
// for the recovery-exceeded path, where the resulting terminal failure
// must cascade through the workflow DAG the same way an executor-reported
// failure does. cache is optional (nil disables the local heartbeat
// mirror) and is used only to answer liveness queries without a storage
// round trip; it never gates a recovery decision, which always derives
// from storage's own heartbeat_at column.
func New(store storage.Storage, sch *scheduler.Scheduler, workflows WorkflowLookup, emitter emit.Emitter, collector *metrics.Collector, cache *heartbeatcache.Cache, opts ...Option) *Recoverer {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Recoverer{store: store, scheduler: sch, workflows: workflows, emitter: emitter, metrics: collector, cache: cache, opts: cfg}
}

// Run sweeps on a fixed cadence until ctx is cancelled, and once
// immediately on entry (spec §4.4 "On runner startup and on a periodic
// cadence").
func (r *Recoverer) Run(ctx context.Context) error {
	if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
		// A failed startup sweep is not fatal: the next tick tries again.
		_ = err
	}

	ticker := time.NewTicker(r.opts.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Sweep runs a single orphan-detection pass and returns how many orphans
// it found (recovered or exceeded-and-failed alike).
func (r *Recoverer) Sweep(ctx context.Context) (int, error) {
	cutoff := cloaca.Now().Add(-r.opts.livenessWindow)
	orphans, err := r.store.FindOrphans(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	now := cloaca.Now()
	for _, orphan := range orphans {
		recovered, exceeded, err := r.store.RecoverTask(ctx, orphan.ID, r.opts.recoveryCeiling, now)
		if err != nil {
			continue // leave it for the next sweep
		}
		if !recovered && !exceeded {
			continue // already reclaimed by a concurrent sweep
		}
		if exceeded {
			r.cascadeExceeded(ctx, orphan)
		}
		r.reportOutcome(orphan, exceeded)
	}

	if r.cache != nil {
		r.cache.Sweep(r.opts.livenessWindow * 4)
	}

	return len(orphans), nil
}

// cascadeExceeded tells the scheduler about the terminal failure
// storage.RecoverTask just persisted on orphan's own row, so dependents
// are Skipped (or siblings Cancelled, under HaltOthers) and the pipeline
// terminal transition is applied exactly as it would be for an
// executor-reported terminal failure (spec §4.1 "on-task-failed").
// RecoverTask's write already made the task row itself consistent; this
// call's own task-row update is a harmless repeat of that same terminal
// state.
func (r *Recoverer) cascadeExceeded(ctx context.Context, orphan events.Task) {
	if r.scheduler == nil || r.workflows == nil {
		return
	}
	pipeline, err := r.store.GetPipeline(ctx, orphan.PipelineID)
	if err != nil {
		return
	}
	wf, ok := r.workflows.Workflow(pipeline.WorkflowName, pipeline.WorkflowVersion)
	if !ok {
		return
	}
	all, err := r.store.ListTasks(ctx, orphan.PipelineID)
	if err != nil {
		return
	}
	failErr := &cloaca.RecoveryExceededError{TaskID: orphan.ID, Attempts: orphan.RecoveryAttempts + 1}
	_ = r.scheduler.OnTaskFailed(ctx, wf, pipeline, all, orphan.ID, false, failErr, nil, r.opts.failurePolicy)
}

func (r *Recoverer) reportOutcome(orphan events.Task, exceeded bool) {
	outcome := "recovered"
	if exceeded {
		outcome = "exceeded"
	}
	if r.metrics != nil {
		r.metrics.IncRecovery(outcome)
	}
	r.emitter.Emit(emit.Event{
		PipelineID: orphan.PipelineID,
		TaskID:     orphan.ID,
		Kind:       emit.TaskRecovered,
		Timestamp:  cloaca.Now(),
		Meta: map[string]any{
			"task":              orphan.Name,
			"previous_owner":    orphan.Owner.String(),
			"attempt":           orphan.Attempt,
			"recovery_attempts": orphan.RecoveryAttempts + 1,
			"outcome":           outcome,
		},
	})
}

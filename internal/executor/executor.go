// Package executor implements the task executor pool: it claims ready
// outbox rows, runs task bodies with bounded concurrency, enforces
// per-task timeouts, heartbeats claimed tasks, and hands the outcome back
// to the scheduler (spec §4.3 "Task executor pool").
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/colliery-io/cloacina-sub003/internal/cctx"
	"github.com/colliery-io/cloacina-sub003/internal/emit"
	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/metrics"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// TaskFunc is a registered task body. It receives the pipeline context
// (exclusively owned for the duration of the call, per spec §5 "Context
// mutation across awaits") and a TaskHandle for cooperative cancellation.
// A returned *cloaca.TaskError carries an explicit classification; any
// other error is treated as TaskErrorExecutionFailed.
type TaskFunc func(ctx context.Context, taskCtx *cctx.Context, handle TaskHandle) error

// Registry resolves a (workflow name, task id) pair to its task body.
// pkg/runner's package loader is the production implementation; tests
// typically use a plain map.
type Registry interface {
	Lookup(workflowName, taskID string) (TaskFunc, bool)
}

// WorkflowLookup resolves a (workflow name, version) pair to its compiled
// DAG, so the pool can hand the scheduler the definition it needs to walk
// dependency edges after a task completes or fails.
type WorkflowLookup interface {
	Workflow(name, version string) (*workflow.Workflow, bool)
}

// Pool is the fixed-size worker pool of spec §4.3. It owns no task-level
// state between claim and completion: every mutation is applied through
// storage.Storage via the scheduler, so any number of Pool instances (in
// one process or many) may run concurrently against the same backend.
type Pool struct {
	store     storage.Storage
	scheduler *scheduler.Scheduler
	registry  Registry
	workflows WorkflowLookup
	emitter   emit.Emitter
	metrics   *metrics.Collector

	ownerID cloaca.ID
	opts    options

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu        sync.Mutex
	cancelled map[cloaca.ID]context.CancelFunc // taskID -> cancel, for in-flight bodies
	owning    map[cloaca.ID]cloaca.ID          // taskID -> pipelineID, for Cancel's pipeline filter
}

// New constructs a Pool. registry and workflows must be supplied by the
// caller (pkg/runner wires them from the package registry); store and sch
// must share the same backend.
func New(store storage.Storage, sch *scheduler.Scheduler, registry Registry, workflows WorkflowLookup, emitter emit.Emitter, collector *metrics.Collector, opts ...Option) *Pool {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Pool{
		store:     store,
		scheduler: sch,
		registry:  registry,
		workflows: workflows,
		emitter:   emitter,
		metrics:   collector,
		ownerID:   cloaca.NewID(),
		opts:      cfg,
		sem:       semaphore.NewWeighted(int64(cfg.concurrency)),
		limiter:   rate.NewLimiter(rate.Every(cfg.pollInterval), 1),
		cancelled: make(map[cloaca.ID]context.CancelFunc),
		owning:    make(map[cloaca.ID]cloaca.ID),
	}
}

// Run claims and executes tasks until ctx is done. It is the pool's main
// loop, intended to be run in its own goroutine by pkg/runner.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			break // ctx cancelled
		}

		claimed, err := p.store.ClaimReady(gctx, p.ownerID, p.opts.batchSize)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			continue // transient claim failure; retry on next tick
		}

		if depth, err := p.store.OutboxDepth(gctx); err == nil && p.metrics != nil {
			p.metrics.SetOutboxDepth(depth)
		}

		for _, task := range claimed {
			task := task
			if err := p.sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				release := sync.OnceFunc(func() { p.sem.Release(1) })
				// runOne releases the slot itself as soon as the task body
				// finishes, before it acknowledges the outcome to the
				// scheduler (spec §5.1: "they MUST release their slot
				// before acknowledging completion so the scheduler's
				// successor inserts do not contend with full workers").
				// This defer is only a safety net for a path that returns
				// without reaching that release.
				defer release()
				p.runOne(gctx, task, release)
				return nil
			})
		}

		select {
		case <-gctx.Done():
			_ = g.Wait()
			return gctx.Err()
		default:
		}
	}

	_ = g.Wait()
	return ctx.Err()
}

// runOne executes a single claimed task end to end: load context, run the
// body under a timeout, classify the outcome, persist it through the
// scheduler. Errors talking to storage are swallowed after logging via the
// emitter — a stuck task is recovered by internal/recovery, not retried
// inline here.
func (p *Pool) runOne(ctx context.Context, task events.Task, release func()) {
	if p.metrics != nil {
		p.metrics.SetTasksInFlight(p.inFlightCount())
	}
	start := time.Now()

	pipeline, err := p.store.GetPipeline(ctx, task.PipelineID)
	if err != nil {
		release()
		return
	}
	wf, ok := p.workflows.Workflow(pipeline.WorkflowName, pipeline.WorkflowVersion)
	if !ok {
		release()
		return
	}
	body, ok := p.registry.Lookup(pipeline.WorkflowName, task.Name)
	if !ok {
		release()
		p.failTerminal(ctx, wf, pipeline, task, &cloaca.TaskError{
			Kind: cloaca.TaskErrorValidationFailed,
			Msg:  fmt.Sprintf("no task body registered for %s/%s", pipeline.WorkflowName, task.Name),
		})
		return
	}

	taskCtx, err := cctx.FromBlob(pipeline.Context, 0)
	if err != nil {
		release()
		p.failTerminal(ctx, wf, pipeline, task, &cloaca.TaskError{Kind: cloaca.TaskErrorValidationFailed, Msg: err.Error(), Err: err})
		return
	}

	runCtx, cancel := p.withTimeout(ctx, wf.Tasks[task.Name])
	p.registerCancel(task.ID, task.PipelineID, cancel)
	defer p.clearCancel(task.ID)

	stopHeartbeat := p.startHeartbeat(runCtx, task.ID)
	runErr := p.invoke(runCtx, body, taskCtx)
	timedOut := runCtx.Err() == context.DeadlineExceeded
	stopHeartbeat()
	cancel()

	// The task body has finished; release the concurrency slot before
	// acknowledging the outcome so the scheduler's successor inserts run
	// against a worker pool that isn't pinned at capacity.
	release()

	if runErr == nil {
		if p.metrics != nil {
			p.metrics.ObserveTaskLatency(task.ID.String(), "completed", time.Since(start))
		}
		p.completeTask(ctx, wf, pipeline, task, taskCtx)
		return
	}

	classified := classify(runErr, timedOut)
	if p.metrics != nil {
		p.metrics.ObserveTaskLatency(task.ID.String(), statusLabel(classified), time.Since(start))
		if classified.Retryable() {
			p.metrics.IncRetry(task.ID.String(), classified.Kind.String())
		}
	}
	p.failTask(ctx, wf, pipeline, task, classified)
}

// invoke runs body, recovering a panic into a terminal TaskError (spec
// §5.1 "panics are recovered and converted to TaskError{Kind:
// ExecutionFailed}" generalized to Kind Panicked so retry classification
// can tell the two apart).
func (p *Pool) invoke(ctx context.Context, body TaskFunc, taskCtx *cctx.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &cloaca.TaskError{Kind: cloaca.TaskErrorPanicked, Msg: fmt.Sprintf("task body panicked: %v", r)}
		}
	}()
	return body(ctx, taskCtx, &taskHandle{ctx: ctx})
}

func (p *Pool) withTimeout(ctx context.Context, node *workflow.TaskNode) (context.Context, context.CancelFunc) {
	if node == nil || node.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, node.Timeout)
}

func (p *Pool) completeTask(ctx context.Context, wf *workflow.Workflow, pipeline events.Pipeline, task events.Task, taskCtx *cctx.Context) {
	snapshot, err := taskCtx.Snapshot()
	if err != nil {
		p.failTerminal(ctx, wf, pipeline, task, &cloaca.TaskError{Kind: cloaca.TaskErrorValidationFailed, Msg: err.Error(), Err: err})
		return
	}
	all, err := p.store.ListTasks(ctx, task.PipelineID)
	if err != nil {
		return
	}
	_ = p.scheduler.OnTaskCompleted(ctx, wf, pipeline, all, task.ID, snapshot)
}

func (p *Pool) failTask(ctx context.Context, wf *workflow.Workflow, pipeline events.Pipeline, task events.Task, taskErr *cloaca.TaskError) {
	all, err := p.store.ListTasks(ctx, task.PipelineID)
	if err != nil {
		return
	}
	var backoffPolicy workflow.BackoffPolicy
	if node, ok := wf.Tasks[task.Name]; ok && node.Retry != nil {
		backoffPolicy = node.Retry.Backoff
	}
	_ = p.scheduler.OnTaskFailed(ctx, wf, pipeline, all, task.ID, taskErr.Retryable(), taskErr, backoffPolicy, p.opts.failurePolicy)
}

// failTerminal is the shortcut path for failures discovered before the
// task body ever ran (unregistered task, corrupt context): always
// non-retryable, regardless of attempts remaining.
func (p *Pool) failTerminal(ctx context.Context, wf *workflow.Workflow, pipeline events.Pipeline, task events.Task, taskErr *cloaca.TaskError) {
	all, err := p.store.ListTasks(ctx, task.PipelineID)
	if err != nil {
		return
	}
	_ = p.scheduler.OnTaskFailed(ctx, wf, pipeline, all, task.ID, false, taskErr, nil, p.opts.failurePolicy)
}

func (p *Pool) startHeartbeat(ctx context.Context, taskID cloaca.ID) (stop func()) {
	interval := p.opts.livenessWindow / 2
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := cloaca.Now()
				_ = p.store.Heartbeat(ctx, taskID, p.ownerID, now)
				if p.opts.heartbeatCache != nil {
					_ = p.opts.heartbeatCache.Put(taskID, now)
				}
			}
		}
	}()
	return func() { close(done) }
}

func (p *Pool) registerCancel(taskID, pipelineID cloaca.ID, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled[taskID] = cancel
	p.owning[taskID] = pipelineID
}

func (p *Pool) clearCancel(taskID cloaca.ID) {
	p.mu.Lock()
	delete(p.cancelled, taskID)
	delete(p.owning, taskID)
	p.mu.Unlock()
	if p.opts.heartbeatCache != nil {
		_ = p.opts.heartbeatCache.Delete(taskID)
	}
}

func (p *Pool) inFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancelled)
}

// CancelPipeline persists the pipeline-level Cancelled transition through
// the scheduler and signals every in-flight task body belonging to that
// pipeline via its TaskHandle (spec §4.3 "Cancellation").
func (p *Pool) CancelPipeline(ctx context.Context, pipelineID cloaca.ID) error {
	if err := p.scheduler.Cancel(ctx, pipelineID); err != nil {
		return err
	}
	p.mu.Lock()
	var toCancel []context.CancelFunc
	for taskID, owner := range p.owning {
		if owner.Equal(pipelineID) {
			toCancel = append(toCancel, p.cancelled[taskID])
		}
	}
	p.mu.Unlock()
	for _, cancel := range toCancel {
		cancel()
	}
	return nil
}

func statusLabel(taskErr *cloaca.TaskError) string {
	switch taskErr.Kind {
	case cloaca.TaskErrorTimeout:
		return "timeout"
	case cloaca.TaskErrorCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Package runner assembles the storage backend, scheduler, executor pool,
// recovery loop, and package registry into the single Runner surface
// embedding applications use to submit workflows and dispatch package
// signatures (spec §6 "Runner API"). It is the composition root: every
// other package in this module is a pure capability that runner wires
// together and runs.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/cctx"
	"github.com/colliery-io/cloacina-sub003/internal/emit"
	"github.com/colliery-io/cloacina-sub003/internal/executor"
	"github.com/colliery-io/cloacina-sub003/internal/metrics"
	"github.com/colliery-io/cloacina-sub003/internal/recovery"
	"github.com/colliery-io/cloacina-sub003/internal/recovery/heartbeatcache"
	"github.com/colliery-io/cloacina-sub003/internal/registry"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/trust"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// Runner is the assembled orchestration engine: one executor pool and one
// recovery loop run in background goroutines for as long as the Runner is
// open, against the storage backend and workflow registry it was
// constructed with.
//
// Submit/Execute accept *cctx.Context rather than the cctx.Context value
// SPEC_FULL.md's illustrative Runner signature shows — Context carries a
// mutex and copying it by value would copy that lock, which is never
// correct in Go. RegisterPackage and ListPackages also differ from that
// listing: both take a tenant, and RegisterPackage also takes an author.
// Cancel, Status and Shutdown match it as written.
type Runner struct {
	store     storage.Storage
	workflows *WorkflowRegistry
	scheduler *scheduler.Scheduler
	pool      *executor.Pool
	recoverer *recovery.Recoverer
	packages  *registry.Service
	cache     *heartbeatcache.Cache
	opts      options

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// New assembles a Runner over store and workflows, then immediately starts
// the executor pool and recovery loop in background goroutines (spec §4.4
// "On runner startup and on a periodic cadence"). Callers own store's
// lifetime but not store; Shutdown only stops the background loops and
// closes the optional heartbeat cache, it does not close store.
func New(store storage.Storage, workflows *WorkflowRegistry, opts ...Option) (*Runner, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NewNullEmitter()
	}

	var cache *heartbeatcache.Cache
	if cfg.heartbeatCachePath != "" {
		var err error
		cache, err = heartbeatcache.Open(cfg.heartbeatCachePath)
		if err != nil {
			return nil, fmt.Errorf("runner: open heartbeat cache: %w", err)
		}
	}

	sch := scheduler.New(store, cfg.emitter)
	resolver := trust.New(store, trust.WithMaxDepth(cfg.trustMaxDepth))
	pkgSvc := registry.New(store, resolver)

	execOpts := cfg.executorOptions()
	if cache != nil {
		execOpts = append(execOpts, executor.WithHeartbeatCache(cache))
	}
	pool := executor.New(store, sch, workflows, workflows, cfg.emitter, cfg.metrics, execOpts...)

	recoverer := recovery.New(store, sch, workflows, cfg.emitter, cfg.metrics, cache, cfg.recoveryOptions()...)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:     store,
		workflows: workflows,
		scheduler: sch,
		pool:      pool,
		recoverer: recoverer,
		packages:  pkgSvc,
		cache:     cache,
		opts:      cfg,
		cancel:    cancel,
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		_ = pool.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		_ = recoverer.Run(ctx)
	}()

	return r, nil
}

// Submit starts a new pipeline execution of workflowName with initial
// context and returns immediately with its id (spec "submit-pipeline").
// The workflow must already be registered with the Runner's
// WorkflowRegistry, with every task body bound.
func (r *Runner) Submit(ctx context.Context, workflowName string, initial *cctx.Context) (cloaca.ID, error) {
	wf, ok := r.workflows.Workflow(workflowName, "")
	if !ok {
		return cloaca.NilID, fmt.Errorf("runner: no workflow named %q registered", workflowName)
	}
	var blob cloaca.JSONBlob
	if initial != nil {
		var err error
		blob, err = initial.Snapshot()
		if err != nil {
			return cloaca.NilID, err
		}
	} else {
		blob = cloaca.MustJSONBlob(map[string]any{})
	}
	return r.scheduler.Start(ctx, wf, blob)
}

// Execute submits workflowName and blocks until the resulting pipeline
// reaches a terminal status, or ctx is cancelled (spec
// "execute-pipeline"). No storage backend implements push notification
// (internal/storage.Capabilities.Notify is advisory only), so Execute
// polls Status at WithStatusPollInterval's cadence rather than
// subscribing to anything.
func (r *Runner) Execute(ctx context.Context, workflowName string, initial *cctx.Context) (*Result, error) {
	pipelineID, err := r.Submit(ctx, workflowName, initial)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(r.opts.statusPollInterval)
	defer ticker.Stop()

	for {
		snapshot, err := r.Status(ctx, pipelineID)
		if err != nil {
			return nil, err
		}
		if snapshot.IsTerminal() {
			pipeline, err := r.store.GetPipeline(ctx, pipelineID)
			if err != nil {
				return nil, err
			}
			finalCtx, err := cctx.FromBlob(pipeline.Context, 0)
			if err != nil {
				return nil, err
			}
			return &Result{Snapshot: snapshot, Context: finalCtx}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel transitions pipelineID and every non-terminal task it owns to
// Cancelled, signalling any in-flight task handles (spec §4.3
// "Cancellation").
func (r *Runner) Cancel(ctx context.Context, pipelineID cloaca.ID) error {
	return r.pool.CancelPipeline(ctx, pipelineID)
}

// Status returns a point-in-time snapshot of pipelineID and its task
// executions (spec "get-pipeline-status").
func (r *Runner) Status(ctx context.Context, pipelineID cloaca.ID) (*Snapshot, error) {
	pipeline, err := r.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	tasks, err := r.store.ListTasks(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	return snapshotFromRows(pipeline, tasks), nil
}

// RegisterPackage verifies sig against packageBytes and the tenant's trust
// chain, then stores the package (spec §4.5 "Registration"). tenant and
// the trust-verifying org are the same value on this surface; deployments
// needing to distinguish them use internal/registry.Service directly.
func (r *Runner) RegisterPackage(ctx context.Context, tenant string, packageBytes []byte, sig registry.Signature, author string) (cloaca.ID, error) {
	return r.packages.Register(ctx, tenant, tenant, packageBytes, sig, author, cloaca.JSONBlob{})
}

// ListPackages returns every package registered under tenant.
func (r *Runner) ListPackages(ctx context.Context, tenant string) ([]registry.Metadata, error) {
	return r.packages.List(ctx, tenant)
}

// RegisterWorkflow adds wf to the Runner's workflow registry, so it is
// exported alongside New rather than requiring callers to reach into the
// WorkflowRegistry they passed in separately.
func (r *Runner) RegisterWorkflow(wf *workflow.Workflow) error {
	return r.workflows.RegisterWorkflow(wf)
}

// RegisterTask binds a task body to (workflowName, taskID) in the Runner's
// workflow registry.
func (r *Runner) RegisterTask(workflowName, taskID string, fn executor.TaskFunc) error {
	return r.workflows.RegisterTask(workflowName, taskID, fn)
}

// Metrics returns the Prometheus collector the Runner was constructed
// with, or nil if metrics were not configured via WithMetrics.
func (r *Runner) Metrics() *metrics.Collector { return r.opts.metrics }

// Shutdown stops the background executor pool and recovery loop and waits
// for their current iteration to finish, bounded by ctx. It does not close
// the storage backend, which the caller still owns.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if r.cache != nil {
			_ = r.cache.Close()
		}
		return ctx.Err()
	}

	if r.cache != nil {
		return r.cache.Close()
	}
	return nil
}

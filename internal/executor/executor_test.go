package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/cctx"
	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
	"github.com/colliery-io/cloacina-sub003/internal/storage/sqlitestore"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

type mapRegistry map[string]TaskFunc

func (m mapRegistry) Lookup(workflowName, taskID string) (TaskFunc, bool) {
	fn, ok := m[workflowName+"/"+taskID]
	return fn, ok
}

type mapWorkflows map[string]*workflow.Workflow

func (m mapWorkflows) Workflow(name, version string) (*workflow.Workflow, bool) {
	wf, ok := m[name+"/"+version]
	return wf, ok
}

func singleTaskWorkflow(t *testing.T, taskID string, node *workflow.TaskNode) *workflow.Workflow {
	t.Helper()
	if node == nil {
		node = &workflow.TaskNode{}
	}
	node.ID = taskID
	wf := workflow.New("wf", "v1")
	if err := wf.AddTask(node); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	return wf
}

func newTestPool(t *testing.T, registry Registry, workflows WorkflowLookup, opts ...Option) (*Pool, *sqlitestore.Store, *scheduler.Scheduler) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sch := scheduler.New(store, nil)
	pool := New(store, sch, registry, workflows, nil, nil, opts...)
	return pool, store, sch
}

func waitForTerminal(t *testing.T, ctx context.Context, store *sqlitestore.Store, pipelineID cloaca.ID) events.Pipeline {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pipeline, err := store.GetPipeline(ctx, pipelineID)
		if err != nil {
			t.Fatalf("GetPipeline: %v", err)
		}
		if pipeline.Status.IsTerminal() {
			return pipeline
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline %s never reached a terminal status", pipelineID)
	return events.Pipeline{}
}

func TestPoolRunsSuccessfulTaskToCompletion(t *testing.T) {
	wf := singleTaskWorkflow(t, "only", nil)
	registry := mapRegistry{"wf/only": func(ctx context.Context, taskCtx *cctx.Context, handle TaskHandle) error {
		return taskCtx.Set("touched", true)
	}}
	pool, store, sch := newTestPool(t, registry, mapWorkflows{"wf/v1": wf}, WithPollInterval(10*time.Millisecond), WithConcurrency(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipelineID, err := sch.Start(ctx, wf, cloaca.NullJSONBlob)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	pipeline := waitForTerminal(t, ctx, store, pipelineID)
	stop()
	<-done

	if pipeline.Status != events.PipelineCompleted {
		t.Errorf("pipeline status = %q, want Completed", pipeline.Status)
	}
	if !pipeline.Context.Equal(cloaca.MustJSONBlob(map[string]any{"touched": true})) {
		t.Errorf("pipeline context = %s, want touched=true", pipeline.Context.Bytes())
	}
}

func TestPoolRetriesThenSucceeds(t *testing.T) {
	wf := singleTaskWorkflow(t, "flaky", &workflow.TaskNode{
		Retry: &workflow.RetryPolicy{MaxAttempts: 3, Backoff: scheduler.FixedPolicy{Delay_: 20 * time.Millisecond}},
	})

	var attempts int32
	registry := mapRegistry{"wf/flaky": func(ctx context.Context, taskCtx *cctx.Context, handle TaskHandle) error {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return errors.New("transient failure")
		}
		return nil
	}}
	pool, store, sch := newTestPool(t, registry, mapWorkflows{"wf/v1": wf}, WithPollInterval(10*time.Millisecond), WithConcurrency(2))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipelineID, err := sch.Start(ctx, wf, cloaca.NullJSONBlob)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		for runCtx.Err() == nil {
			if _, err := sch.PromoteDueRetries(runCtx); err != nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		done <- nil
	}()
	go func() { _ = pool.Run(runCtx) }()

	pipeline := waitForTerminal(t, ctx, store, pipelineID)
	stop()
	<-done

	if pipeline.Status != events.PipelineCompleted {
		t.Errorf("pipeline status = %q, want Completed", pipeline.Status)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestPoolUnregisteredTaskFailsTerminal(t *testing.T) {
	wf := singleTaskWorkflow(t, "ghost", nil)
	pool, store, sch := newTestPool(t, mapRegistry{}, mapWorkflows{"wf/v1": wf}, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipelineID, err := sch.Start(ctx, wf, cloaca.NullJSONBlob)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	pipeline := waitForTerminal(t, ctx, store, pipelineID)
	stop()
	<-done

	if pipeline.Status != events.PipelineFailed {
		t.Errorf("pipeline status = %q, want Failed", pipeline.Status)
	}
}

func TestPoolTaskTimeoutAtFinalAttemptFailsPipeline(t *testing.T) {
	wf := singleTaskWorkflow(t, "slow", &workflow.TaskNode{Timeout: 20 * time.Millisecond})
	blocked := make(chan struct{})
	registry := mapRegistry{"wf/slow": func(ctx context.Context, taskCtx *cctx.Context, handle TaskHandle) error {
		<-ctx.Done()
		close(blocked)
		return ctx.Err()
	}}
	pool, store, sch := newTestPool(t, registry, mapWorkflows{"wf/v1": wf}, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipelineID, err := sch.Start(ctx, wf, cloaca.NullJSONBlob)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("task body never observed timeout cancellation")
	}

	pipeline := waitForTerminal(t, ctx, store, pipelineID)
	stop()
	<-done

	// Single-attempt workflow: the timeout is retryable in kind but the
	// attempt ceiling (default MaxAttempts=1) terminates it immediately.
	if pipeline.Status != events.PipelineFailed {
		t.Errorf("pipeline status = %q, want Failed", pipeline.Status)
	}
}

func TestPoolPanicRecoveredAsTerminalFailure(t *testing.T) {
	wf := singleTaskWorkflow(t, "boom", nil)
	registry := mapRegistry{"wf/boom": func(ctx context.Context, taskCtx *cctx.Context, handle TaskHandle) error {
		panic("kaboom")
	}}
	pool, store, sch := newTestPool(t, registry, mapWorkflows{"wf/v1": wf}, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipelineID, err := sch.Start(ctx, wf, cloaca.NullJSONBlob)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	pipeline := waitForTerminal(t, ctx, store, pipelineID)
	stop()
	<-done

	if pipeline.Status != events.PipelineFailed {
		t.Errorf("pipeline status = %q, want Failed", pipeline.Status)
	}
}

package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/scheduler"
	"github.com/colliery-io/cloacina-sub003/internal/storage/sqlitestore"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

type mapWorkflows map[string]*workflow.Workflow

func (m mapWorkflows) Workflow(name, version string) (*workflow.Workflow, bool) {
	wf, ok := m[name+"/"+version]
	return wf, ok
}

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func buildWorkflow(t *testing.T) (*workflow.Workflow, mapWorkflows) {
	t.Helper()
	wf := workflow.New("ingest", "v1")
	if err := wf.AddTask(&workflow.TaskNode{ID: "fetch"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	return wf, mapWorkflows{"ingest/v1": wf}
}

func startClaimedPipeline(t *testing.T, s *sqlitestore.Store, owner cloaca.ID) (events.Pipeline, events.Task) {
	t.Helper()
	ctx := context.Background()
	pipeline := events.Pipeline{
		ID:              cloaca.NewID(),
		WorkflowName:    "ingest",
		WorkflowVersion: "v1",
		Status:          events.PipelineRunning,
		CreatedAt:       cloaca.Now(),
	}
	root := events.Task{
		ID:          cloaca.NewID(),
		PipelineID:  pipeline.ID,
		Name:        "fetch",
		Status:      events.TaskReady,
		MaxAttempts: 3,
	}
	if err := s.StartPipeline(ctx, pipeline, []events.Task{root}, nil, nil); err != nil {
		t.Fatalf("StartPipeline: %v", err)
	}
	claimed, err := s.ClaimReady(ctx, owner, 10)
	if err != nil {
		t.Fatalf("ClaimReady: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("ClaimReady returned %d tasks, want 1", len(claimed))
	}
	return pipeline, claimed[0]
}

func TestSweepReclaimsOrphanToReady(t *testing.T) {
	s := newTestStore(t)
	owner := cloaca.NewID()
	_, task := startClaimedPipeline(t, s, owner)

	// Back-date the heartbeat so the task reads as orphaned against a
	// short liveness window, without sleeping in the test.
	stale := cloaca.Now().Add(-time.Hour)
	if err := s.Heartbeat(context.Background(), task.ID, owner, stale); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	r := New(s, nil, nil, nil, nil, nil, WithLivenessWindow(time.Second), WithRecoveryCeiling(5))
	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep found %d orphans, want 1", n)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != events.TaskReady {
		t.Errorf("task status = %q, want Ready", got.Status)
	}
	if got.RecoveryAttempts != 1 {
		t.Errorf("recovery attempts = %d, want 1", got.RecoveryAttempts)
	}

	depth, err := s.OutboxDepth(context.Background())
	if err != nil {
		t.Fatalf("OutboxDepth: %v", err)
	}
	if depth != 1 {
		t.Errorf("outbox depth = %d, want 1 (fresh row for the reclaimed task)", depth)
	}
}

func TestSweepIgnoresFreshHeartbeats(t *testing.T) {
	s := newTestStore(t)
	owner := cloaca.NewID()
	_, task := startClaimedPipeline(t, s, owner)

	r := New(s, nil, nil, nil, nil, nil, WithLivenessWindow(time.Hour))
	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("Sweep found %d orphans, want 0 (heartbeat is fresh)", n)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != events.TaskClaimed {
		t.Errorf("task status = %q, want still Claimed", got.Status)
	}
}

func TestSweepFailsTaskPastRecoveryCeiling(t *testing.T) {
	s := newTestStore(t)
	owner := cloaca.NewID()
	_, task := startClaimedPipeline(t, s, owner)
	_, workflows := buildWorkflow(t)

	stale := cloaca.Now().Add(-time.Hour)
	if err := s.Heartbeat(context.Background(), task.ID, owner, stale); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	sch := scheduler.New(s, nil)
	r := New(s, sch, workflows, nil, nil, nil, WithLivenessWindow(time.Second), WithRecoveryCeiling(0))
	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep found %d orphans, want 1", n)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != events.TaskFailed {
		t.Errorf("task status = %q, want Failed (recovery ceiling exceeded)", got.Status)
	}

	pipeline, err := s.GetPipeline(context.Background(), task.PipelineID)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if pipeline.Status != events.PipelineFailed {
		t.Errorf("pipeline status = %q, want Failed (only task in the pipeline exceeded recovery)", pipeline.Status)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil, nil, nil, nil, nil, WithSweepInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	if err == nil {
		t.Fatal("Run returned nil error, want context deadline/cancellation error")
	}
}

package sqlstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// getTestDSN returns the MySQL DSN from TEST_MYSQL_DSN, or "" if unset.
// Integration tests against a live server skip themselves when unset; set
// TEST_MYSQL_DSN="user:pass@tcp(localhost:3306)/test_db" to run them.
func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Log("sqlstore integration tests skipped: TEST_MYSQL_DSN not set")
	}
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := getTestDSN(t)
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenInvalidDSN(t *testing.T) {
	if _, err := Open("not a dsn"); err == nil {
		t.Fatal("expected error opening an invalid DSN")
	}
}

func TestCapabilitiesReportsSkipLocked(t *testing.T) {
	s := &Store{}
	caps := s.Capabilities()
	if !caps.SkipLocked {
		t.Error("expected sqlstore.Capabilities().SkipLocked = true")
	}
	if caps.Backend != "mysql" {
		t.Errorf("backend = %q, want mysql", caps.Backend)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.checkOpen(); err == nil {
		t.Fatal("expected checkOpen to fail on a closed store")
	}
}

func newPipelineWithRoot(t *testing.T, s *Store) (events.Pipeline, events.Task) {
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
	return pipeline, root
}

func TestStartPipelineAndClaimReady(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root := newPipelineWithRoot(t, s)

	owner := cloaca.NewID()
	claimed, err := s.ClaimReady(ctx, owner, 10)
	if err != nil {
		t.Fatalf("ClaimReady: %v", err)
	}
	if len(claimed) != 1 || !claimed[0].ID.Equal(root.ID) {
		t.Fatalf("claimed = %+v, want exactly root task", claimed)
	}

	depth, err := s.OutboxDepth(ctx)
	if err != nil {
		t.Fatalf("OutboxDepth: %v", err)
	}
	if depth != 0 {
		t.Errorf("outbox depth after claim = %d, want 0", depth)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), cloaca.NewID())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want storage.ErrNotFound", err)
	}
}

func TestRecoverTaskExceedsCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, root := newPipelineWithRoot(t, s)

	if _, err := s.ClaimReady(ctx, cloaca.NewID(), 10); err != nil {
		t.Fatalf("ClaimReady: %v", err)
	}

	recovered, exceeded, err := s.RecoverTask(ctx, root.ID, 0, cloaca.Now())
	if err != nil {
		t.Fatalf("RecoverTask: %v", err)
	}
	if recovered || !exceeded {
		t.Fatalf("recovered=%v exceeded=%v, want false/true", recovered, exceeded)
	}

	task, err := s.GetTask(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != events.TaskFailed {
		t.Errorf("task status = %q, want Failed", task.Status)
	}
}

func TestCancelPipelineMarksNonTerminalTasksCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pipeline, root := newPipelineWithRoot(t, s)

	if err := s.CancelPipeline(ctx, pipeline.ID, nil); err != nil {
		t.Fatalf("CancelPipeline: %v", err)
	}

	gotTask, err := s.GetTask(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if gotTask.Status != events.TaskCancelled {
		t.Errorf("task status = %q, want Cancelled", gotTask.Status)
	}
}

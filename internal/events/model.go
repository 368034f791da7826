// Package events defines the persisted data model the storage capability
// reads and writes: pipeline executions, task executions, the append-only
// execution event log, and the transient task outbox. These are row
// shapes, not behavior — internal/storage is what turns them into
// transactions.
package events

import (
	"github.com/colliery-io/cloacina-sub003/internal/emit"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// PipelineStatus is the lifecycle state of a pipeline execution.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "Pending"
	PipelineRunning   PipelineStatus = "Running"
	PipelineCompleted PipelineStatus = "Completed"
	PipelineFailed    PipelineStatus = "Failed"
	PipelineCancelled PipelineStatus = "Cancelled"
)

// IsTerminal reports whether the status ends the pipeline's lifecycle.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineCompleted, PipelineFailed, PipelineCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a task execution.
type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskReady     TaskStatus = "Ready"
	TaskClaimed   TaskStatus = "Claimed"
	TaskRunning   TaskStatus = "Running"
	TaskCompleted TaskStatus = "Completed"
	TaskFailed    TaskStatus = "Failed"
	TaskRetrying  TaskStatus = "Retrying"
	TaskSkipped   TaskStatus = "Skipped"
	TaskCancelled TaskStatus = "Cancelled"
)

// IsTerminal reports whether the status ends the task's lifecycle, i.e. no
// further scheduler or executor transition will touch it.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	default:
		return false
	}
}

// Pipeline is a pipeline execution row (spec "Pipeline execution").
type Pipeline struct {
	ID              cloaca.ID
	WorkflowName    string
	WorkflowVersion string
	Status          PipelineStatus
	CreatedAt       cloaca.Timestamp
	CompletedAt     cloaca.Timestamp
	Context         cloaca.JSONBlob
	ErrorSummary    string
}

// Task is a task execution row (spec "Task execution").
type Task struct {
	ID               cloaca.ID
	PipelineID       cloaca.ID
	Name             string
	Status           TaskStatus
	Attempt          int
	MaxAttempts      int
	Config           cloaca.JSONBlob
	StartedAt        cloaca.Timestamp
	CompletedAt      cloaca.Timestamp
	RetryAt          cloaca.Timestamp
	LastError        string
	RecoveryAttempts int
	LastRecoveryAt   cloaca.Timestamp
	Owner            cloaca.ID
	HeartbeatAt      cloaca.Timestamp
	// Version increments on every mutation. Used by the compare-and-set
	// claim fallback on backends without SELECT ... FOR UPDATE SKIP LOCKED.
	Version int64
}

// Event is one append-only execution event log row (spec "Execution event").
type Event struct {
	ID         int64
	PipelineID cloaca.ID
	TaskID     cloaca.ID
	Kind       emit.Type
	Payload    cloaca.JSONBlob
	Timestamp  cloaca.Timestamp
}

// OutboxRow is a transient task-outbox row. Its invariant (spec §3): a row
// exists iff the referenced task is Ready and unclaimed; it is deleted
// atomically in the same transaction that claims the task.
type OutboxRow struct {
	ID        int64
	TaskID    cloaca.ID
	CreatedAt cloaca.Timestamp
}

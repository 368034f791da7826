package runner

import (
	"github.com/colliery-io/cloacina-sub003/internal/cctx"
	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// Snapshot is a point-in-time view of a pipeline execution and its task
// executions (spec "get-pipeline-status").
type Snapshot struct {
	PipelineID   cloaca.ID
	WorkflowName string
	Status       events.PipelineStatus
	CreatedAt    cloaca.Timestamp
	CompletedAt  cloaca.Timestamp
	ErrorSummary string
	Tasks        []TaskSnapshot
}

// IsTerminal reports whether the pipeline has finished running.
func (s *Snapshot) IsTerminal() bool { return s.Status.IsTerminal() }

// TaskSnapshot is a point-in-time view of one task execution within a
// pipeline.
type TaskSnapshot struct {
	TaskID      cloaca.ID
	Name        string
	Status      events.TaskStatus
	Attempt     int
	MaxAttempts int
	LastError   string
}

// Result is what Execute returns once a pipeline reaches a terminal status:
// the final snapshot plus the context as it stood at completion.
type Result struct {
	Snapshot *Snapshot
	Context  *cctx.Context
}

// Succeeded reports whether the pipeline completed without failure or
// cancellation.
func (r *Result) Succeeded() bool {
	return r.Snapshot != nil && r.Snapshot.Status == events.PipelineCompleted
}

func snapshotFromRows(pipeline events.Pipeline, tasks []events.Task) *Snapshot {
	out := &Snapshot{
		PipelineID:   pipeline.ID,
		WorkflowName: pipeline.WorkflowName,
		Status:       pipeline.Status,
		CreatedAt:    pipeline.CreatedAt,
		CompletedAt:  pipeline.CompletedAt,
		ErrorSummary: pipeline.ErrorSummary,
		Tasks:        make([]TaskSnapshot, 0, len(tasks)),
	}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, TaskSnapshot{
			TaskID:      t.ID,
			Name:        t.Name,
			Status:      t.Status,
			Attempt:     t.Attempt,
			MaxAttempts: t.MaxAttempts,
			LastError:   t.LastError,
		})
	}
	return out
}

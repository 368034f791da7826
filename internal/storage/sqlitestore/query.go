package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

const taskSelectColumns = `SELECT id, pipeline_id, name, status, attempt, max_attempts, config, started_at, completed_at, retry_at, last_error, recovery_attempts, last_recovery_at, owner, heartbeat_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(row rowScanner) (events.Task, error) {
	var (
		task   events.Task
		status string
	)
	err := row.Scan(
		&task.ID, &task.PipelineID, &task.Name, &status, &task.Attempt, &task.MaxAttempts, &task.Config,
		&task.StartedAt, &task.CompletedAt, &task.RetryAt, &task.LastError, &task.RecoveryAttempts, &task.LastRecoveryAt,
		&task.Owner, &task.HeartbeatAt, &task.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return events.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return events.Task{}, fmt.Errorf("scan task row: %w", err)
	}
	task.Status = events.TaskStatus(status)
	return task, nil
}

// GetPipeline implements storage.Storage.
func (s *Store) GetPipeline(ctx context.Context, id cloaca.ID) (events.Pipeline, error) {
	if err := s.checkOpen(); err != nil {
		return events.Pipeline{}, err
	}
	var (
		pipeline events.Pipeline
		status   string
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_name, workflow_version, status, created_at, completed_at, context, error_summary
		FROM pipelines WHERE id = ?`, id)
	err := row.Scan(&pipeline.ID, &pipeline.WorkflowName, &pipeline.WorkflowVersion, &status, &pipeline.CreatedAt, &pipeline.CompletedAt, &pipeline.Context, &pipeline.ErrorSummary)
	if errors.Is(err, sql.ErrNoRows) {
		return events.Pipeline{}, storage.ErrNotFound
	}
	if err != nil {
		return events.Pipeline{}, fmt.Errorf("sqlitestore: get pipeline: %w", err)
	}
	pipeline.Status = events.PipelineStatus(status)
	return pipeline, nil
}

// GetTask implements storage.Storage.
func (s *Store) GetTask(ctx context.Context, id cloaca.ID) (events.Task, error) {
	if err := s.checkOpen(); err != nil {
		return events.Task{}, err
	}
	return scanTaskRow(s.db.QueryRowContext(ctx, taskSelectColumns+" FROM tasks WHERE id = ?", id))
}

// ListTasks implements storage.Storage.
func (s *Store) ListTasks(ctx context.Context, pipelineID cloaca.ID) ([]events.Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+" FROM tasks WHERE pipeline_id = ? ORDER BY name", pipelineID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []events.Task
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// OutboxDepth implements storage.Storage.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var depth int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_outbox`).Scan(&depth); err != nil {
		return 0, fmt.Errorf("sqlitestore: outbox depth: %w", err)
	}
	return depth, nil
}

// AppendEvents implements storage.Storage.
func (s *Store) AppendEvents(ctx context.Context, logEvents []events.Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvents(ctx, tx, logEvents)
	})
}

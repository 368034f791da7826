package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// StartPipeline implements storage.Storage.
func (s *Store) StartPipeline(ctx context.Context, pipeline events.Pipeline, rootTasks []events.Task, pendingTasks []events.Task, logEvents []events.Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pipelines (id, workflow_name, workflow_version, status, created_at, completed_at, context, error_summary)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			pipeline.ID, pipeline.WorkflowName, pipeline.WorkflowVersion, string(pipeline.Status),
			pipeline.CreatedAt, pipeline.CompletedAt, pipeline.Context, pipeline.ErrorSummary,
		); err != nil {
			return fmt.Errorf("insert pipeline: %w", err)
		}

		for _, task := range rootTasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
			if err := insertOutboxRow(ctx, tx, task.ID); err != nil {
				return err
			}
		}
		for _, task := range pendingTasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		}
		return insertEvents(ctx, tx, logEvents)
	})
}

// CompleteTask implements storage.Storage.
func (s *Store) CompleteTask(ctx context.Context, taskID cloaca.ID, contextSnapshot cloaca.JSONBlob, readyTasks []events.Task, skippedTaskIDs []cloaca.ID, logEvents []events.Event, terminal *storage.PipelineTerminal) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		task, err := fetchTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, completed_at = ?, version = version + 1
			WHERE id = ?`,
			string(events.TaskCompleted), cloaca.Now(), taskID,
		); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE pipelines SET context = ? WHERE id = ?`, contextSnapshot, task.PipelineID); err != nil {
			return fmt.Errorf("persist context snapshot: %w", err)
		}

		for _, ready := range readyTasks {
			if err := upsertTaskReady(ctx, tx, ready); err != nil {
				return err
			}
			if err := insertOutboxRow(ctx, tx, ready.ID); err != nil {
				return err
			}
		}
		for _, skippedID := range skippedTaskIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, version = version + 1 WHERE id = ?`, string(events.TaskSkipped), skippedID); err != nil {
				return fmt.Errorf("skip task %s: %w", skippedID, err)
			}
		}
		if err := insertEvents(ctx, tx, logEvents); err != nil {
			return err
		}
		return applyPipelineTerminal(ctx, tx, task.PipelineID, terminal)
	})
}

// FailTask implements storage.Storage.
func (s *Store) FailTask(ctx context.Context, update events.Task, readyTasks []events.Task, skippedTaskIDs []cloaca.ID, cancelledTaskIDs []cloaca.ID, logEvents []events.Event, terminal *storage.PipelineTerminal) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				status = ?, attempt = ?, retry_at = ?, last_error = ?, completed_at = ?, version = version + 1
			WHERE id = ?`,
			string(update.Status), update.Attempt, update.RetryAt, update.LastError, update.CompletedAt, update.ID,
		); err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		for _, ready := range readyTasks {
			if err := upsertTaskReady(ctx, tx, ready); err != nil {
				return err
			}
			if err := insertOutboxRow(ctx, tx, ready.ID); err != nil {
				return err
			}
		}
		for _, skippedID := range skippedTaskIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, version = version + 1 WHERE id = ?`, string(events.TaskSkipped), skippedID); err != nil {
				return fmt.Errorf("skip task %s: %w", skippedID, err)
			}
		}
		for _, cancelledID := range cancelledTaskIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, version = version + 1 WHERE id = ?`, string(events.TaskCancelled), cancelledID); err != nil {
				return fmt.Errorf("cancel task %s: %w", cancelledID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM task_outbox WHERE task_id = ?`, cancelledID); err != nil {
				return fmt.Errorf("clear outbox for cancelled task %s: %w", cancelledID, err)
			}
		}
		if err := insertEvents(ctx, tx, logEvents); err != nil {
			return err
		}
		return applyPipelineTerminal(ctx, tx, update.PipelineID, terminal)
	})
}

// CancelPipeline implements storage.Storage.
func (s *Store) CancelPipeline(ctx context.Context, pipelineID cloaca.ID, logEvents []events.Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE pipelines SET status = ?, completed_at = ? WHERE id = ?`, string(events.PipelineCancelled), cloaca.Now(), pipelineID); err != nil {
			return fmt.Errorf("cancel pipeline: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, version = version + 1
			WHERE pipeline_id = ? AND status NOT IN (?, ?, ?, ?)`,
			string(events.TaskCancelled), pipelineID,
			string(events.TaskCompleted), string(events.TaskFailed), string(events.TaskSkipped), string(events.TaskCancelled),
		); err != nil {
			return fmt.Errorf("cancel non-terminal tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_outbox WHERE task_id IN (SELECT id FROM tasks WHERE pipeline_id = ?)`, pipelineID); err != nil {
			return fmt.Errorf("clear outbox for cancelled pipeline: %w", err)
		}
		return insertEvents(ctx, tx, logEvents)
	})
}

func applyPipelineTerminal(ctx context.Context, tx *sql.Tx, pipelineID cloaca.ID, terminal *storage.PipelineTerminal) error {
	if terminal == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE pipelines SET status = ?, completed_at = ?, error_summary = ?
		WHERE id = ?`,
		string(terminal.Status), cloaca.Now(), terminal.ErrorSummary, pipelineID,
	)
	if err != nil {
		return fmt.Errorf("apply pipeline terminal transition: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, task events.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, pipeline_id, name, status, attempt, max_attempts, config, started_at, completed_at, retry_at, last_error, recovery_attempts, last_recovery_at, owner, heartbeat_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		task.ID, task.PipelineID, task.Name, string(task.Status), task.Attempt, task.MaxAttempts, task.Config,
		task.StartedAt, task.CompletedAt, task.RetryAt, task.LastError, task.RecoveryAttempts, task.LastRecoveryAt,
		task.Owner, task.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.Name, err)
	}
	return nil
}

// upsertTaskReady inserts the task row if new, or transitions an existing
// row (e.g. one that was Pending awaiting this dependency) to Ready.
func upsertTaskReady(ctx context.Context, tx *sql.Tx, task events.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, version = version + 1 WHERE id = ?`, string(events.TaskReady), task.ID)
	if err != nil {
		return fmt.Errorf("promote task %s to ready: %w", task.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return insertTask(ctx, tx, task)
}

func insertOutboxRow(ctx context.Context, tx *sql.Tx, taskID cloaca.ID) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_outbox (task_id, created_at) VALUES (?, ?)`, taskID, cloaca.Now())
	if err != nil {
		return fmt.Errorf("insert outbox row for task %s: %w", taskID, err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, logEvents []events.Event) error {
	for _, event := range logEvents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_events (pipeline_id, task_id, kind, payload, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			event.PipelineID, event.TaskID, string(event.Kind), event.Payload, event.Timestamp,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", event.Kind, err)
		}
	}
	return nil
}

func fetchTaskForUpdate(ctx context.Context, tx *sql.Tx, taskID cloaca.ID) (events.Task, error) {
	return scanTaskRow(tx.QueryRowContext(ctx, taskSelectColumns+" FROM tasks WHERE id = ? FOR UPDATE", taskID))
}

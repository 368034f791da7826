package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// ClaimReady implements storage.Storage using SELECT ... FOR UPDATE SKIP
// LOCKED (spec §4.2): each concurrent claimer locks a disjoint set of
// outbox rows, so no compare-and-set retry loop is needed.
func (s *Store) ClaimReady(ctx context.Context, ownerID cloaca.ID, batchSize int) ([]events.Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var claimed []events.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT o.id, o.task_id FROM task_outbox o
			ORDER BY o.id ASC LIMIT ? FOR UPDATE SKIP LOCKED`, batchSize)
		if err != nil {
			return fmt.Errorf("select outbox rows: %w", err)
		}
		type candidate struct {
			outboxID int64
			taskID   cloaca.ID
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.outboxID, &c.taskID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan outbox row: %w", err)
			}
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		_ = rows.Close()

		now := cloaca.Now()
		for _, c := range candidates {
			task, err := fetchTaskForUpdate(ctx, tx, c.taskID)
			if err != nil {
				continue // task already transitioned away from Ready; skip stale outbox row
			}
			if task.Status != events.TaskReady {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, owner = ?, started_at = ?, heartbeat_at = ?, version = version + 1
				WHERE id = ?`,
				string(events.TaskClaimed), ownerID, now, now, c.taskID,
			); err != nil {
				return fmt.Errorf("claim task %s: %w", c.taskID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM task_outbox WHERE id = ?`, c.outboxID); err != nil {
				return fmt.Errorf("delete outbox row %d: %w", c.outboxID, err)
			}
			task.Status = events.TaskClaimed
			task.Owner = ownerID
			task.StartedAt = now
			task.HeartbeatAt = now
			claimed = append(claimed, task)
		}
		return nil
	})
	return claimed, err
}

// PromoteDueRetries implements storage.Storage.
func (s *Store) PromoteDueRetries(ctx context.Context, now cloaca.Timestamp) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var promoted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE status = ? AND retry_at <= ? FOR UPDATE SKIP LOCKED`, string(events.TaskRetrying), now)
		if err != nil {
			return fmt.Errorf("select due retries: %w", err)
		}
		var ids []cloaca.ID
		for rows.Next() {
			var id cloaca.ID
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan retry row: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		_ = rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, version = version + 1 WHERE id = ?`, string(events.TaskReady), id); err != nil {
				return fmt.Errorf("promote retry task %s: %w", id, err)
			}
			if err := insertOutboxRow(ctx, tx, id); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	return promoted, err
}

// Heartbeat implements storage.Storage.
func (s *Store) Heartbeat(ctx context.Context, taskID, ownerID cloaca.ID, at cloaca.Timestamp) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET heartbeat_at = ? WHERE id = ? AND owner = ?`, at, taskID, ownerID)
	if err != nil {
		return fmt.Errorf("sqlstore: heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &cloaca.StorageError{Op: "Heartbeat", Code: cloaca.StorageCodeNotFound, Err: fmt.Errorf("task %s not owned by %s", taskID, ownerID)}
	}
	return nil
}

// FindOrphans implements storage.Storage.
func (s *Store) FindOrphans(ctx context.Context, livenessCutoff cloaca.Timestamp) ([]events.Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+`
		FROM tasks WHERE status IN (?, ?) AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		string(events.TaskClaimed), string(events.TaskRunning), livenessCutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find orphans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orphans []events.Task
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, task)
	}
	return orphans, rows.Err()
}

// RecoverTask implements storage.Storage.
func (s *Store) RecoverTask(ctx context.Context, taskID cloaca.ID, recoveryCeiling int, at cloaca.Timestamp) (bool, bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, false, err
	}
	var recovered, exceeded bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		task, err := fetchTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != events.TaskClaimed && task.Status != events.TaskRunning {
			return nil // already reclaimed by a concurrent recovery pass: idempotent no-op
		}

		attempts := task.RecoveryAttempts + 1
		if attempts > recoveryCeiling {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, recovery_attempts = ?, last_recovery_at = ?, last_error = ?, version = version + 1
				WHERE id = ?`,
				string(events.TaskFailed), attempts, at, (&cloaca.RecoveryExceededError{TaskID: taskID, Attempts: attempts}).Error(), taskID,
			); err != nil {
				return fmt.Errorf("fail task %s after recovery exceeded: %w", taskID, err)
			}
			exceeded = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, recovery_attempts = ?, last_recovery_at = ?, owner = NULL, version = version + 1
			WHERE id = ?`,
			string(events.TaskReady), attempts, at, taskID,
		); err != nil {
			return fmt.Errorf("recover task %s: %w", taskID, err)
		}
		if err := insertOutboxRow(ctx, tx, taskID); err != nil {
			return err
		}
		recovered = true
		return nil
	})
	return recovered, exceeded, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return &cloaca.StorageError{Op: "BeginTx", Code: cloaca.StorageCodeTransaction, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &cloaca.StorageError{Op: "Commit", Code: cloaca.StorageCodeTransaction, Err: err}
	}
	return nil
}

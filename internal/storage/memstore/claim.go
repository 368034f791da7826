package memstore

import (
	"context"
	"errors"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// ClaimReady implements storage.Storage. With only one writer (the mutex
// held for the whole call), there is no race to fall back on: every
// candidate outbox row is still Ready by construction.
func (s *Store) ClaimReady(ctx context.Context, ownerID cloaca.ID, batchSize int) ([]events.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}

	n := batchSize
	if n > len(s.outbox) {
		n = len(s.outbox)
	}
	ids := append([]cloaca.ID(nil), s.outbox[:n]...)

	now := cloaca.Now()
	var claimed []events.Task
	for _, taskID := range ids {
		task, ok := s.tasks[taskID]
		if !ok || task.Status != events.TaskReady {
			s.removeOutboxLocked(taskID) // stale row; task already transitioned away from Ready
			continue
		}
		task.Status = events.TaskClaimed
		task.Owner = ownerID
		task.StartedAt = now
		task.HeartbeatAt = now
		task.Version++
		s.tasks[taskID] = task
		s.removeOutboxLocked(taskID)
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// PromoteDueRetries implements storage.Storage.
func (s *Store) PromoteDueRetries(ctx context.Context, now cloaca.Timestamp) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}

	var promoted int
	for id, task := range s.tasks {
		if task.Status != events.TaskRetrying {
			continue
		}
		if task.RetryAt.After(now) {
			continue
		}
		task.Status = events.TaskReady
		task.Version++
		s.tasks[id] = task
		s.insertOutboxLocked(id)
		promoted++
	}
	return promoted, nil
}

// Heartbeat implements storage.Storage.
func (s *Store) Heartbeat(ctx context.Context, taskID, ownerID cloaca.ID, at cloaca.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	task, ok := s.tasks[taskID]
	if !ok || task.Owner != ownerID {
		return &cloaca.StorageError{Op: "Heartbeat", Code: cloaca.StorageCodeNotFound, Err: errNotOwned}
	}
	task.HeartbeatAt = at
	s.tasks[taskID] = task
	return nil
}

var errNotOwned = errors.New("memstore: task not owned by given owner")

// FindOrphans implements storage.Storage.
func (s *Store) FindOrphans(ctx context.Context, livenessCutoff cloaca.Timestamp) ([]events.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	var orphans []events.Task
	for _, task := range s.tasks {
		if task.Status != events.TaskClaimed && task.Status != events.TaskRunning {
			continue
		}
		if task.HeartbeatAt.IsZero() || task.HeartbeatAt.Before(livenessCutoff) {
			orphans = append(orphans, task)
		}
	}
	return sortedTaskNames(orphans), nil
}

// RecoverTask implements storage.Storage.
func (s *Store) RecoverTask(ctx context.Context, taskID cloaca.ID, recoveryCeiling int, at cloaca.Timestamp) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return false, false, err
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return false, false, nil
	}
	if task.Status != events.TaskClaimed && task.Status != events.TaskRunning {
		return false, false, nil // already reclaimed by a concurrent recovery pass: idempotent no-op
	}

	attempts := task.RecoveryAttempts + 1
	if attempts > recoveryCeiling {
		task.Status = events.TaskFailed
		task.RecoveryAttempts = attempts
		task.LastRecoveryAt = at
		task.LastError = (&cloaca.RecoveryExceededError{TaskID: taskID, Attempts: attempts}).Error()
		task.Version++
		s.tasks[taskID] = task
		return false, true, nil
	}

	task.Status = events.TaskReady
	task.RecoveryAttempts = attempts
	task.LastRecoveryAt = at
	task.Owner = cloaca.NilID
	task.Version++
	s.tasks[taskID] = task
	s.insertOutboxLocked(taskID)
	return true, false, nil
}

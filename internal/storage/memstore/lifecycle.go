package memstore

import (
	"context"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// StartPipeline implements storage.Storage.
func (s *Store) StartPipeline(ctx context.Context, pipeline events.Pipeline, rootTasks []events.Task, pendingTasks []events.Task, logEvents []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}

	s.pipelines[pipeline.ID] = pipeline
	for _, task := range rootTasks {
		s.tasks[task.ID] = task
		s.insertOutboxLocked(task.ID)
	}
	for _, task := range pendingTasks {
		s.tasks[task.ID] = task
	}
	s.appendEventsLocked(logEvents)
	return nil
}

// CompleteTask implements storage.Storage.
func (s *Store) CompleteTask(ctx context.Context, taskID cloaca.ID, contextSnapshot cloaca.JSONBlob, readyTasks []events.Task, skippedTaskIDs []cloaca.ID, logEvents []events.Event, terminal *storage.PipelineTerminal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return storage.ErrNotFound
	}
	task.Status = events.TaskCompleted
	task.CompletedAt = cloaca.Now()
	task.Version++
	s.tasks[taskID] = task

	pipeline, ok := s.pipelines[task.PipelineID]
	if ok {
		pipeline.Context = contextSnapshot
		s.pipelines[task.PipelineID] = pipeline
	}

	for _, ready := range readyTasks {
		s.upsertTaskReadyLocked(ready)
	}
	for _, skippedID := range skippedTaskIDs {
		s.setStatusLocked(skippedID, events.TaskSkipped)
	}
	s.appendEventsLocked(logEvents)
	s.applyPipelineTerminalLocked(task.PipelineID, terminal)
	return nil
}

// FailTask implements storage.Storage.
func (s *Store) FailTask(ctx context.Context, update events.Task, readyTasks []events.Task, skippedTaskIDs []cloaca.ID, cancelledTaskIDs []cloaca.ID, logEvents []events.Event, terminal *storage.PipelineTerminal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}

	existing, ok := s.tasks[update.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Status = update.Status
	existing.Attempt = update.Attempt
	existing.RetryAt = update.RetryAt
	existing.LastError = update.LastError
	existing.CompletedAt = update.CompletedAt
	existing.Version++
	s.tasks[update.ID] = existing

	for _, ready := range readyTasks {
		s.upsertTaskReadyLocked(ready)
	}
	for _, skippedID := range skippedTaskIDs {
		s.setStatusLocked(skippedID, events.TaskSkipped)
	}
	for _, cancelledID := range cancelledTaskIDs {
		s.setStatusLocked(cancelledID, events.TaskCancelled)
		s.removeOutboxLocked(cancelledID)
	}
	s.appendEventsLocked(logEvents)
	s.applyPipelineTerminalLocked(update.PipelineID, terminal)
	return nil
}

// CancelPipeline implements storage.Storage.
func (s *Store) CancelPipeline(ctx context.Context, pipelineID cloaca.ID, logEvents []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}

	pipeline, ok := s.pipelines[pipelineID]
	if ok {
		pipeline.Status = events.PipelineCancelled
		pipeline.CompletedAt = cloaca.Now()
		s.pipelines[pipelineID] = pipeline
	}

	for id, task := range s.tasks {
		if task.PipelineID != pipelineID || task.Status.IsTerminal() {
			continue
		}
		task.Status = events.TaskCancelled
		task.Version++
		s.tasks[id] = task
		s.removeOutboxLocked(id)
	}
	s.appendEventsLocked(logEvents)
	return nil
}

// GetPipeline implements storage.Storage.
func (s *Store) GetPipeline(ctx context.Context, id cloaca.ID) (events.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return events.Pipeline{}, err
	}
	pipeline, ok := s.pipelines[id]
	if !ok {
		return events.Pipeline{}, storage.ErrNotFound
	}
	return pipeline, nil
}

// GetTask implements storage.Storage.
func (s *Store) GetTask(ctx context.Context, id cloaca.ID) (events.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return events.Task{}, err
	}
	task, ok := s.tasks[id]
	if !ok {
		return events.Task{}, storage.ErrNotFound
	}
	return task, nil
}

// ListTasks implements storage.Storage.
func (s *Store) ListTasks(ctx context.Context, pipelineID cloaca.ID) ([]events.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	var out []events.Task
	for _, task := range s.tasks {
		if task.PipelineID == pipelineID {
			out = append(out, task)
		}
	}
	return sortedTaskNames(out), nil
}

// upsertTaskReadyLocked mirrors sqlitestore's upsertTaskReady: transition an
// existing (e.g. Pending) row to Ready, or insert it fresh if this is the
// first time this task id has been seen.
func (s *Store) upsertTaskReadyLocked(task events.Task) {
	if existing, ok := s.tasks[task.ID]; ok {
		existing.Status = events.TaskReady
		existing.Version++
		s.tasks[task.ID] = existing
	} else {
		s.tasks[task.ID] = task
	}
	s.insertOutboxLocked(task.ID)
}

func (s *Store) setStatusLocked(taskID cloaca.ID, status events.TaskStatus) {
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	task.Status = status
	task.Version++
	s.tasks[taskID] = task
}

func (s *Store) applyPipelineTerminalLocked(pipelineID cloaca.ID, terminal *storage.PipelineTerminal) {
	if terminal == nil {
		return
	}
	pipeline, ok := s.pipelines[pipelineID]
	if !ok {
		return
	}
	pipeline.Status = terminal.Status
	pipeline.CompletedAt = cloaca.Now()
	pipeline.ErrorSummary = terminal.ErrorSummary
	s.pipelines[pipelineID] = pipeline
}

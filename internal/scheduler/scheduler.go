package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/colliery-io/cloacina-sub003/internal/emit"
	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// Scheduler advances pipeline executions through their workflow DAG: it
// materializes task rows on start, reacts to task completion/failure by
// walking dependency edges to a fixed point, and decides pipeline-level
// terminal transitions (spec §4.1 "Workflow scheduler").
//
// A Scheduler holds no per-pipeline state of its own; every operation
// reads the current task rows from storage (or accepts them from a caller
// that just fetched them) and writes the next transition back in one
// transaction, so any number of executor goroutines or processes can call
// it concurrently against the same storage backend.
type Scheduler struct {
	store   storage.Storage
	emitter emit.Emitter
}

// New constructs a Scheduler over store, publishing every transition to
// emitter.
func New(store storage.Storage, emitter emit.Emitter) *Scheduler {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Scheduler{store: store, emitter: emitter}
}

func (s *Scheduler) emit(logEvents []events.Event) {
	for _, e := range logEvents {
		s.emitter.Emit(toEmitEvent(e))
	}
}

// Start implements spec §4.1 "start": atomically sets the pipeline
// Running, materializes a task-execution row for every node in wf (Ready
// for roots, Pending for the rest), inserts an outbox row per root task in
// task-name lexicographic order, and emits PipelineStarted/TaskReady. One
// transaction.
func (s *Scheduler) Start(ctx context.Context, wf *workflow.Workflow, initial cloaca.JSONBlob) (cloaca.ID, error) {
	if err := wf.Validate(); err != nil {
		return cloaca.NilID, err
	}

	pipelineID := cloaca.NewID()
	now := cloaca.Now()
	pipeline := events.Pipeline{
		ID:              pipelineID,
		WorkflowName:    wf.Name,
		WorkflowVersion: wf.Version,
		Status:          events.PipelineRunning,
		CreatedAt:       now,
		Context:         initial,
	}

	roots := wf.Roots()
	rootSet := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootSet[r] = true
	}

	names := make([]string, 0, len(wf.Tasks))
	for name := range wf.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	var rootTasks, pendingTasks []events.Task
	for _, name := range names {
		node := wf.Tasks[name]
		t := events.Task{
			ID:          cloaca.NewID(),
			PipelineID:  pipelineID,
			Name:        name,
			MaxAttempts: maxAttempts(node),
			Config:      node.Config,
		}
		if rootSet[name] {
			t.Status = events.TaskReady
			rootTasks = append(rootTasks, t)
		} else {
			t.Status = events.TaskPending
			pendingTasks = append(pendingTasks, t)
		}
	}
	// Roots must be inserted (and therefore outboxed) in task-name
	// lexicographic order so a single-worker deployment sees deterministic
	// execution order (spec §4.1 "Tie-breaks and ordering").
	sort.Slice(rootTasks, func(i, j int) bool { return rootTasks[i].Name < rootTasks[j].Name })

	logEvents := []events.Event{pipelineEvent(pipelineID, emit.PipelineStarted, now, nil)}
	for _, t := range rootTasks {
		logEvents = append(logEvents, taskEvent(pipelineID, t.ID, emit.TaskReady, now, map[string]any{"task": t.Name}))
	}

	// A workflow with no tasks has no task execution to ever drive
	// OnTaskCompleted/OnTaskFailed, so the terminal transition has to be
	// decided here instead (spec §8 boundary case: "empty DAG completes
	// immediately with Completed").
	if len(wf.Tasks) == 0 {
		pipeline.Status = events.PipelineCompleted
		pipeline.CompletedAt = now
		logEvents = append(logEvents, pipelineEvent(pipelineID, emit.PipelineCompleted, now, nil))
	}

	if err := s.store.StartPipeline(ctx, pipeline, rootTasks, pendingTasks, logEvents); err != nil {
		return cloaca.NilID, err
	}
	s.emit(logEvents)
	return pipelineID, nil
}

// OnTaskCompleted implements spec §4.1 "on-task-completed": persists the
// context snapshot, computes every successor now Ready or Skipped by
// walking the DAG to a fixed point from the completed task, and applies a
// pipeline terminal transition once every task execution is terminal.
// allTasks must be the full, current set of task executions for the
// pipeline (as returned by storage.ListTasks).
func (s *Scheduler) OnTaskCompleted(ctx context.Context, wf *workflow.Workflow, pipeline events.Pipeline, allTasks []events.Task, completedTaskID cloaca.ID, newContext cloaca.JSONBlob) error {
	byName := indexByName(allTasks)

	completed, ok := findByID(allTasks, completedTaskID)
	if !ok {
		return fmt.Errorf("scheduler: task %s not found in pipeline %s", completedTaskID, pipeline.ID)
	}
	completedAt := cloaca.Now()
	completed.Status = events.TaskCompleted
	completed.CompletedAt = completedAt
	byName[completed.Name] = completed

	ready, skipped := closeDependents(wf, byName, []string{completed.Name})

	logEvents := []events.Event{taskEvent(pipeline.ID, completed.ID, emit.TaskCompleted, completedAt, map[string]any{"task": completed.Name})}
	logEvents = append(logEvents, readyAndSkipEvents(pipeline.ID, ready, skipped, completedAt)...)

	terminal := pipelineTerminal(byName)
	if terminal != nil {
		logEvents = append(logEvents, pipelineEvent(pipeline.ID, terminalEventKind(terminal.Status), completedAt, map[string]any{"error": terminal.ErrorSummary}))
	}

	skippedIDs := idsOf(skipped)
	if err := s.store.CompleteTask(ctx, completedTaskID, newContext, ready, skippedIDs, logEvents, terminal); err != nil {
		return err
	}
	s.emit(logEvents)
	return nil
}

// OnTaskFailed implements spec §4.1 "on-task-failed": if the task has
// attempts remaining it is scheduled for retry at now+backoff(attempt);
// otherwise it is marked Failed, its transitive dependents are Skipped,
// and — under policy.HaltOthers — every other non-terminal task in the
// pipeline is Cancelled outright. failErr carries the classification from
// the executor (spec §4.1 "Failure classification"); only a retryable
// classification with attempts remaining takes the retry path.
func (s *Scheduler) OnTaskFailed(ctx context.Context, wf *workflow.Workflow, pipeline events.Pipeline, allTasks []events.Task, taskID cloaca.ID, retryable bool, failErr error, backoffPolicy workflow.BackoffPolicy, policy FailurePolicy) error {
	byName := indexByName(allTasks)
	task, ok := findByID(allTasks, taskID)
	if !ok {
		return fmt.Errorf("scheduler: task %s not found in pipeline %s", taskID, pipeline.ID)
	}

	now := cloaca.Now()
	errMsg := ""
	if failErr != nil {
		errMsg = failErr.Error()
	}

	// Attempt counts attempts consumed so far; this failed run consumes
	// one more regardless of whether it retries (spec §8 boundary case:
	// "single-node DAG with failing task and max-attempts=1 terminates
	// with Failed after one attempt").
	newAttempt := task.Attempt + 1

	if retryable && newAttempt < task.MaxAttempts {
		task.Attempt = newAttempt
		task.Status = events.TaskRetrying
		task.LastError = errMsg
		retryAt := now
		if backoffPolicy != nil {
			retryAt = now.Add(backoffPolicy.Delay(newAttempt))
		}
		task.RetryAt = retryAt

		logEvents := []events.Event{taskEvent(pipeline.ID, task.ID, emit.TaskRetryScheduled, now, map[string]any{
			"task": task.Name, "attempt": newAttempt, "retry_at": retryAt.String(), "error": errMsg,
		})}
		return s.failTaskAndEmit(ctx, task, nil, nil, nil, logEvents, nil)
	}

	// Terminal failure: the attempt ceiling is exhausted, or the
	// classification is non-retryable to begin with.
	task.Attempt = newAttempt
	task.Status = events.TaskFailed
	task.LastError = errMsg
	task.CompletedAt = now
	byName[task.Name] = task

	ready, skipped := closeDependents(wf, byName, []string{task.Name})
	// Trigger rules are evaluated against the Failed status like any
	// other terminal status: a dependent gated on-failure (or one whose
	// only remaining dependency on this task is optional) may become
	// Ready, while required on-success dependents are Skipped.
	skippedIDs := idsOf(skipped)

	var cancelledIDs []cloaca.ID
	if policy == HaltOthers {
		for _, t := range byName {
			if t.ID.Equal(task.ID) {
				continue
			}
			if t.Status.IsTerminal() {
				continue
			}
			already := false
			for _, sk := range skipped {
				if sk.ID.Equal(t.ID) {
					already = true
					break
				}
			}
			if already {
				continue
			}
			cancelledIDs = append(cancelledIDs, t.ID)
			t.Status = events.TaskCancelled
			byName[t.Name] = t
		}
	}

	logEvents := []events.Event{taskEvent(pipeline.ID, task.ID, emit.TaskFailed, now, map[string]any{"task": task.Name, "error": errMsg})}
	logEvents = append(logEvents, readyAndSkipEvents(pipeline.ID, ready, skipped, now)...)
	for _, id := range cancelledIDs {
		logEvents = append(logEvents, taskEvent(pipeline.ID, id, emit.TaskCancelled, now, nil))
	}

	terminal := pipelineTerminal(byName)
	if terminal == nil && policy == HaltOthers {
		// HaltOthers always resolves the pipeline once the triggering
		// task fails terminally: every sibling was just forced terminal
		// above, so the fixed point is reached in this same call.
		terminal = &storage.PipelineTerminal{Status: events.PipelineFailed, ErrorSummary: errMsg}
	}
	if terminal != nil {
		logEvents = append(logEvents, pipelineEvent(pipeline.ID, terminalEventKind(terminal.Status), now, map[string]any{"error": terminal.ErrorSummary}))
	}

	// Successors gated "on-failure" (or optional successors satisfied by
	// this failure) may have become Ready as a byproduct of walking the
	// failed task's dependents; they ride along in the same transaction
	// as the failed task's own update.
	return s.failTaskAndEmit(ctx, task, ready, skippedIDs, cancelledIDs, logEvents, terminal)
}

func (s *Scheduler) failTaskAndEmit(ctx context.Context, update events.Task, readyTasks []events.Task, skippedIDs, cancelledIDs []cloaca.ID, logEvents []events.Event, terminal *storage.PipelineTerminal) error {
	if err := s.store.FailTask(ctx, update, readyTasks, skippedIDs, cancelledIDs, logEvents, terminal); err != nil {
		return err
	}
	s.emit(logEvents)
	return nil
}

// Cancel implements spec §4.3 "Cancellation": marks the pipeline and every
// non-terminal task Cancelled in one transaction, then signals in-flight
// task handles (the executor pool owns the actual goroutine cancellation;
// this only persists the durable state transition).
func (s *Scheduler) Cancel(ctx context.Context, pipelineID cloaca.ID) error {
	now := cloaca.Now()
	logEvents := []events.Event{pipelineEvent(pipelineID, emit.PipelineCancelled, now, nil)}
	if err := s.store.CancelPipeline(ctx, pipelineID, logEvents); err != nil {
		return err
	}
	s.emit(logEvents)
	return nil
}

// PromoteDueRetries implements the delayed inserter of spec §4.1
// ("a delayed inserter (§5) promotes Retrying to Ready when retry_at ≤
// now"). Intended to be called periodically by the executor pool's poll
// loop.
func (s *Scheduler) PromoteDueRetries(ctx context.Context) (int, error) {
	return s.store.PromoteDueRetries(ctx, cloaca.Now())
}

func maxAttempts(node *workflow.TaskNode) int {
	if node.Retry != nil && node.Retry.MaxAttempts > 0 {
		return node.Retry.MaxAttempts
	}
	return 1
}

func indexByName(tasks []events.Task) map[string]events.Task {
	m := make(map[string]events.Task, len(tasks))
	for _, t := range tasks {
		m[t.Name] = t
	}
	return m
}

func findByID(tasks []events.Task, id cloaca.ID) (events.Task, bool) {
	for _, t := range tasks {
		if t.ID.Equal(id) {
			return t, true
		}
	}
	return events.Task{}, false
}

func idsOf(tasks []events.Task) []cloaca.ID {
	ids := make([]cloaca.ID, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// closeDependents walks the DAG breadth-first from seedNames, deciding
// every Pending successor whose predecessors have now all reached a
// terminal status. A successor transitions to Ready once every dependency
// is satisfied (spec §4.1 "Dependency semantics"), or to Skipped the
// moment any *required* dependency's terminal status fails to satisfy its
// trigger rule (spec §4.1 "If a required predecessor failed terminally,
// mark dependents Skipped"). Skipped is itself terminal, so the walk
// cascades through multi-level fan-out automatically; Ready is not
// terminal, so cascading past a newly-Ready node is a no-op until that
// node itself completes or fails in a later call. byName is mutated in
// place so the caller can compute a pipeline terminal transition from the
// same map afterward.
func closeDependents(wf *workflow.Workflow, byName map[string]events.Task, seedNames []string) (ready, skipped []events.Task) {
	visited := make(map[string]bool, len(byName))
	queue := append([]string(nil), seedNames...)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		for _, succName := range wf.Successors(name) {
			if visited[succName] {
				continue
			}
			cur, ok := byName[succName]
			if !ok {
				// Every workflow node is materialized at Start; an
				// unknown name here would indicate a workflow mutated
				// after pipeline creation, which this scheduler does not
				// support.
				continue
			}
			if cur.Status != events.TaskPending {
				continue // already decided by an earlier event
			}

			status, decided := evaluateReadiness(wf.Tasks[succName], byName)
			if !decided {
				continue
			}

			visited[succName] = true
			cur.Status = status
			if status == events.TaskSkipped {
				cur.CompletedAt = cloaca.Now()
				skipped = append(skipped, cur)
			} else {
				ready = append(ready, cur)
			}
			byName[succName] = cur
			queue = append(queue, succName)
		}
	}
	return ready, skipped
}

// evaluateReadiness reports whether node's dependencies are decided yet
// and, if so, whether the node should become Ready or Skipped (spec §4.1
// "on-task-completed": required dependencies gate scheduling on their
// trigger rule; optional dependencies never block — once an optional
// predecessor reaches any terminal status it is considered settled,
// satisfied or not).
func evaluateReadiness(node *workflow.TaskNode, byName map[string]events.Task) (events.TaskStatus, bool) {
	allSatisfied := true
	anyRequiredFailed := false

	for _, dep := range node.Dependencies {
		pred, ok := byName[dep.TaskID]
		if !ok || !pred.Status.IsTerminal() {
			allSatisfied = false
			continue
		}
		if dep.Optional {
			continue
		}
		if workflow.DependencySatisfied(dep, string(pred.Status)) {
			continue
		}
		allSatisfied = false
		anyRequiredFailed = true
	}

	if anyRequiredFailed {
		return events.TaskSkipped, true
	}
	if allSatisfied {
		return events.TaskReady, true
	}
	return "", false
}

// pipelineTerminal reports the pipeline-level transition to apply once
// every task execution in byName has reached a terminal status (spec §8
// invariant 3: "No pipeline ever leaves a non-terminal status after all
// its task executions are terminal"), or nil if work remains.
func pipelineTerminal(byName map[string]events.Task) *storage.PipelineTerminal {
	anyFailed := false
	firstErr := ""
	for _, t := range byName {
		if !t.Status.IsTerminal() {
			return nil
		}
		if t.Status == events.TaskFailed && firstErr == "" {
			anyFailed = true
			firstErr = t.LastError
		}
	}
	if anyFailed {
		return &storage.PipelineTerminal{Status: events.PipelineFailed, ErrorSummary: firstErr}
	}
	return &storage.PipelineTerminal{Status: events.PipelineCompleted}
}

func terminalEventKind(status events.PipelineStatus) emit.Type {
	switch status {
	case events.PipelineFailed:
		return emit.PipelineFailed
	case events.PipelineCancelled:
		return emit.PipelineCancelled
	default:
		return emit.PipelineCompleted
	}
}

func readyAndSkipEvents(pipelineID cloaca.ID, ready, skipped []events.Task, at cloaca.Timestamp) []events.Event {
	out := make([]events.Event, 0, len(ready)+len(skipped))
	for _, t := range ready {
		out = append(out, taskEvent(pipelineID, t.ID, emit.TaskReady, at, map[string]any{"task": t.Name}))
	}
	for _, t := range skipped {
		out = append(out, taskEvent(pipelineID, t.ID, emit.TaskSkipped, at, map[string]any{"task": t.Name}))
	}
	return out
}

func pipelineEvent(pipelineID cloaca.ID, kind emit.Type, at cloaca.Timestamp, meta map[string]any) events.Event {
	return events.Event{PipelineID: pipelineID, Kind: kind, Timestamp: at, Payload: metaPayload(meta)}
}

func taskEvent(pipelineID, taskID cloaca.ID, kind emit.Type, at cloaca.Timestamp, meta map[string]any) events.Event {
	return events.Event{PipelineID: pipelineID, TaskID: taskID, Kind: kind, Timestamp: at, Payload: metaPayload(meta)}
}

func metaPayload(meta map[string]any) cloaca.JSONBlob {
	if len(meta) == 0 {
		return cloaca.JSONBlob{}
	}
	return cloaca.MustJSONBlob(meta)
}

func toEmitEvent(e events.Event) emit.Event {
	return emit.Event{PipelineID: e.PipelineID, TaskID: e.TaskID, Kind: e.Kind, Timestamp: e.Timestamp}
}

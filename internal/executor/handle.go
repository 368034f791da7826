package executor

import "context"

// TaskHandle is the cooperative-cancellation capability a task body
// receives alongside its context (spec §4.3 "an optional task-handle
// capability [exposing] only the query is_slot_held()"). A body that
// checks IsSlotHeld periodically can return early once its pipeline has
// been cancelled instead of running to its own timeout.
type TaskHandle interface {
	// IsSlotHeld reports whether the executor still considers this task's
	// execution slot live. It returns false once the task's context has
	// been cancelled, either by a pipeline-level cancel or a timeout.
	IsSlotHeld() bool
}

type taskHandle struct {
	ctx context.Context
}

func (h *taskHandle) IsSlotHeld() bool {
	return h.ctx.Err() == nil
}

package executor

import (
	"context"
	"errors"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// classify turns a task body's return value into the scheduler's failure
// classification (spec §4.1 "Failure classification", §4.3 step 3 "on
// expiry... treat as RetryableFailure unless it is the final attempt").
// A timed-out run is reported as TaskErrorTimeout regardless of what the
// body itself returned, since a body that ignored ctx cancellation cannot
// be trusted to report its own outcome accurately. Attempt-ceiling
// handling (retryable-but-out-of-attempts => terminal) lives in
// internal/scheduler, not here.
func classify(err error, timedOut bool) *cloaca.TaskError {
	if timedOut {
		return &cloaca.TaskError{Kind: cloaca.TaskErrorTimeout, Msg: "task exceeded its configured timeout", Err: context.DeadlineExceeded}
	}

	var taskErr *cloaca.TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}

	if errors.Is(err, context.Canceled) {
		return &cloaca.TaskError{Kind: cloaca.TaskErrorCancelled, Msg: "task was cancelled", Err: err}
	}

	return &cloaca.TaskError{Kind: cloaca.TaskErrorExecutionFailed, Msg: err.Error(), Err: err}
}

// Package emit provides pluggable observability for the runner: every
// state transition the scheduler, executor pool, and recovery loop make is
// expressed as an Event and handed to an Emitter. This is the ambient
// "logging" of the core — there is no separate logger call site inside
// internal/; anything worth surfacing goes through here.
package emit

import "github.com/colliery-io/cloacina-sub003/pkg/cloaca"

// Type enumerates the execution event types of spec §3 "Execution event".
type Type string

const (
	PipelineStarted    Type = "PipelineStarted"
	PipelineCompleted  Type = "PipelineCompleted"
	PipelineFailed     Type = "PipelineFailed"
	PipelineCancelled  Type = "PipelineCancelled"
	TaskReady          Type = "TaskReady"
	TaskClaimed        Type = "TaskClaimed"
	TaskStarted        Type = "TaskStarted"
	TaskCompleted      Type = "TaskCompleted"
	TaskFailed         Type = "TaskFailed"
	TaskRetryScheduled Type = "TaskRetryScheduled"
	TaskRecovered      Type = "TaskRecovered"
	TaskSkipped        Type = "TaskSkipped"
	TaskCancelled      Type = "TaskCancelled"
)

// Event is an observability event emitted during pipeline execution. It is
// distinct from the persisted execution_events log row (internal/events):
// every persisted row is also emitted here, but an Emitter may additionally
// see events no storage backend is asked to retain (e.g. claim-latency
// samples).
type Event struct {
	// PipelineID identifies the pipeline execution that produced this event.
	PipelineID cloaca.ID

	// TaskID identifies the task execution this event concerns, if any.
	TaskID cloaca.ID

	// Kind is the execution event type.
	Kind Type

	// Msg is a short human-readable description.
	Msg string

	// Meta carries additional structured fields: "owner", "attempt",
	// "error", "retry_at", "duration_ms", and so on, depending on Kind.
	Meta map[string]any

	// Timestamp is when the event occurred.
	Timestamp cloaca.Timestamp
}

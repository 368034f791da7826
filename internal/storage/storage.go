// Package storage defines the single persistence capability the core
// consumes (spec §6 "Storage capability"): transactional pipeline/task
// lifecycle mutation, the outbox claim protocol, heartbeats and recovery
// queries, and the package registry's blob/metadata/trust tables.
//
// Two backends implement it: internal/storage/sqlitestore (embedded,
// compare-and-set claim) and internal/storage/sqlstore (client-server,
// SELECT ... FOR UPDATE SKIP LOCKED). internal/storage/memstore is a
// third, test-only backend. Callers depend only on this interface —
// exactly the shape of the teacher's store.Store[S], generalized from one
// generic state type to the spec's concrete row types.
package storage

import (
	"context"
	"errors"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// ErrNotFound is returned when a requested id does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrClaimConflict names a lost compare-and-set claim race on a row. No
// backend in this module returns it: sqlitestore's ClaimReady skips a row
// whose version check fails and moves on to the next outbox row.
var ErrClaimConflict = errors.New("storage: claim conflict")

// PipelineTerminal describes the terminal transition to apply to a
// pipeline execution alongside a task completion or failure, when the
// scheduler determines no further tasks remain (spec §4.1).
type PipelineTerminal struct {
	Status       events.PipelineStatus
	ErrorSummary string
}

// Storage is the capability interface the scheduler, executor pool,
// recovery loop, and registry are built against.
type Storage interface {
	// StartPipeline atomically creates a pipeline execution row in Running
	// status, one task-execution row per root task (Ready) plus one
	// Pending row for every other task the workflow declares (spec §3
	// "Task execution... Created when the scheduler expands the
	// workflow"), one outbox row per root task in task-name
	// lexicographic order, and the corresponding emit events (spec §4.1
	// "start"). One transaction. Materializing every node up front (rather
	// than lazily on first dependency resolution) is what lets
	// CompleteTask's skippedTaskIDs and FailTask's terminal-skip cascade
	// reference a row by id alone.
	StartPipeline(ctx context.Context, pipeline events.Pipeline, rootTasks []events.Task, pendingTasks []events.Task, logEvents []events.Event) error

	// CompleteTask persists taskID's context snapshot, transitions newly
	// ready successor tasks to Ready with fresh outbox rows, marks
	// unreachable successors Skipped, and applies an optional pipeline
	// terminal transition — all in one transaction (spec §4.1
	// "on-task-completed").
	CompleteTask(ctx context.Context, taskID cloaca.ID, contextSnapshot cloaca.JSONBlob, readyTasks []events.Task, skippedTaskIDs []cloaca.ID, logEvents []events.Event, terminal *PipelineTerminal) error

	// FailTask transitions taskID to Retrying (with retryAt set) or to a
	// terminal Failed status. When the failure is terminal, readyTasks
	// carries any dependent the scheduler determined is now Ready (one gated
	// "on-failure", or one whose dependency on the failed task is optional),
	// skippedTaskIDs carries the transitive dependents that
	// can never become Ready (spec §4.1 "mark dependents Skipped"), and
	// cancelledTaskIDs carries every other non-terminal task the
	// scheduler's HaltOthers failure policy decided to abort outright
	// (spec §9.1 Open Question: per-workflow failure policy). All three
	// are empty under a Retrying transition; cancelledTaskIDs is always
	// empty under ContinueIndependent. Applies an optional pipeline terminal
	// transition — all in one transaction (spec §4.1 "on-task-failed").
	FailTask(ctx context.Context, update events.Task, readyTasks []events.Task, skippedTaskIDs []cloaca.ID, cancelledTaskIDs []cloaca.ID, logEvents []events.Event, terminal *PipelineTerminal) error

	// CancelPipeline marks the pipeline and every non-terminal task
	// Cancelled in one transaction (spec §4.3 "Cancellation").
	CancelPipeline(ctx context.Context, pipelineID cloaca.ID, logEvents []events.Event) error

	// GetPipeline fetches a pipeline execution by id.
	GetPipeline(ctx context.Context, id cloaca.ID) (events.Pipeline, error)

	// GetTask fetches a task execution by id.
	GetTask(ctx context.Context, id cloaca.ID) (events.Task, error)

	// ListTasks returns every task execution belonging to a pipeline.
	ListTasks(ctx context.Context, pipelineID cloaca.ID) ([]events.Task, error)

	// ClaimReady selects up to batchSize outbox rows ordered by id ASC,
	// transitions their tasks to Claimed with the given owner, and deletes
	// the claimed outbox rows — one transaction (spec §4.2 "Claim
	// protocol"). Backends without skip-locked support retry the
	// compare-and-set fallback internally; callers never see
	// ErrClaimConflict from this method.
	ClaimReady(ctx context.Context, ownerID cloaca.ID, batchSize int) ([]events.Task, error)

	// PromoteDueRetries transitions every Retrying task whose retry_at has
	// elapsed to Ready with a fresh outbox row. Returns the count promoted.
	PromoteDueRetries(ctx context.Context, now cloaca.Timestamp) (int, error)

	// Heartbeat updates a claimed task's liveness timestamp. Fails with a
	// *cloaca.StorageError whose Code is cloaca.StorageCodeNotFound if the
	// task is no longer owned by ownerID (e.g. already reclaimed by
	// recovery); that error does not wrap ErrNotFound.
	Heartbeat(ctx context.Context, taskID, ownerID cloaca.ID, at cloaca.Timestamp) error

	// FindOrphans returns Claimed or Running tasks whose heartbeat is older
	// than livenessCutoff (spec §4.4 "Model").
	FindOrphans(ctx context.Context, livenessCutoff cloaca.Timestamp) ([]events.Task, error)

	// RecoverTask reclaims an orphaned task: increments recovery_attempts
	// and last_recovery_at and transitions it back to Ready with a fresh
	// outbox row, or to Failed with a Recovery-exceeded error if
	// recoveryCeiling is exceeded. Idempotent: a task no longer Claimed or
	// Running (e.g. already reclaimed) is a silent no-op, reported via the
	// recovered return value.
	RecoverTask(ctx context.Context, taskID cloaca.ID, recoveryCeiling int, at cloaca.Timestamp) (recovered bool, exceeded bool, err error)

	// OutboxDepth reports the number of ready, unclaimed outbox rows.
	OutboxDepth(ctx context.Context) (int, error)

	// AppendEvents appends rows to the execution event log outside of a
	// lifecycle transition (e.g. claim-latency samples the scheduler
	// chooses to persist in addition to emitting).
	AppendEvents(ctx context.Context, logEvents []events.Event) error

	// Registry operations; see internal/registry for the higher-level API
	// built on top of these.
	Registry

	// Capabilities reports which optional features this backend instance
	// supports, so callers can select the claim strategy and notification
	// mode appropriately.
	Capabilities() Capabilities

	// Close releases backend resources (connection pools, file handles).
	Close() error
}

// Registry is the subset of Storage dealing with signed package blobs,
// metadata, signing keys, trusted keys, and trust ACLs (spec §4.5).
// Declared separately so internal/registry can depend on a narrower
// interface than the full Storage capability if it ever needs to.
type Registry interface {
	StoreBlob(ctx context.Context, id cloaca.ID, data []byte) error
	RetrieveBlob(ctx context.Context, id cloaca.ID) ([]byte, error)
	DeleteBlob(ctx context.Context, id cloaca.ID) error

	PutPackageMetadata(ctx context.Context, meta PackageMetadata) error
	GetPackageMetadata(ctx context.Context, tenant, name, version string) (PackageMetadata, error)
	ListPackageMetadata(ctx context.Context, tenant string) ([]PackageMetadata, error)

	PutSigningKey(ctx context.Context, key SigningKey) error
	GetSigningKey(ctx context.Context, fingerprint string) (SigningKey, error)
	RevokeSigningKey(ctx context.Context, fingerprint string, at cloaca.Timestamp) error

	PutTrustedKey(ctx context.Context, org, fingerprint string) error
	ListTrustedKeys(ctx context.Context, org string) ([]TrustedKey, error)
	RevokeTrustedKey(ctx context.Context, org, fingerprint string) error

	PutTrustACL(ctx context.Context, parentOrg, childOrg string) error
	ListTrustEdges(ctx context.Context, parentOrg string) ([]KeyTrustACL, error)
	RevokeTrustACL(ctx context.Context, parentOrg, childOrg string) error

	PutPackageSignature(ctx context.Context, sig PackageSignature) error
	GetPackageSignature(ctx context.Context, packageHash string) (PackageSignature, error)
}

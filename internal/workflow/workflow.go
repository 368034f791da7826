// Package workflow implements the declarative DAG model: task nodes, their
// dependencies and trigger rules, validity checks, and the per-workflow
// fingerprint (spec §3 "Workflow").
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// TriggerRule governs when a dependency edge is considered satisfied,
// based on the terminal status the predecessor reached (spec §4.1
// "Dependency semantics").
type TriggerRule int

const (
	// TriggerOnSuccess is the default: the predecessor must have Completed.
	TriggerOnSuccess TriggerRule = iota
	// TriggerOnFailure requires the predecessor to have Failed.
	TriggerOnFailure
	// TriggerAlways is satisfied regardless of the predecessor's outcome,
	// as long as it reached a terminal status.
	TriggerAlways
	// TriggerOnSkipped requires the predecessor to have been Skipped.
	TriggerOnSkipped
)

func (r TriggerRule) String() string {
	switch r {
	case TriggerOnSuccess:
		return "on-success"
	case TriggerOnFailure:
		return "on-failure"
	case TriggerAlways:
		return "always"
	case TriggerOnSkipped:
		return "on-skipped"
	default:
		return "unknown"
	}
}

// Dependency is one edge of the DAG: a predecessor task id plus the rule
// that determines when the edge is satisfied. Required dependencies gate
// scheduling of the dependent task; optional dependencies only gate it on
// Completed-or-Skipped predecessors (spec §4.1 on-task-completed).
type Dependency struct {
	TaskID   string
	Rule     TriggerRule
	Optional bool
}

// RetryPolicy bounds how many attempts a task gets and how backoff is
// computed between attempts (spec §4.1 "Backoff").
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffPolicy
}

// BackoffPolicy is implemented by scheduler.Fixed/Linear/Exponential; the
// workflow package only needs to hold a reference and serialize it, not
// evaluate it, so it is declared as an opaque interface here to avoid an
// import cycle with internal/scheduler.
type BackoffPolicy interface {
	// Delay returns the backoff delay before the given attempt number
	// (1-indexed: the delay before the *second* attempt is Delay(1)).
	Delay(attempt int) time.Duration
	// MarshalPolicy returns a JSON-serializable description of the policy.
	// Fingerprint does not include it, and nothing in this module calls it.
	MarshalPolicy() map[string]any
}

// TaskNode is one node in the workflow DAG.
type TaskNode struct {
	ID           string
	Dependencies []Dependency
	Retry        *RetryPolicy
	Timeout      time.Duration
	Config       cloaca.JSONBlob
}

// Workflow is the declarative description of a DAG of tasks (spec §3
// "Workflow").
type Workflow struct {
	Name    string
	Version string
	Tasks   map[string]*TaskNode
	order   []string // insertion order, used for deterministic fingerprinting
}

// New creates an empty, named workflow.
func New(name, version string) *Workflow {
	return &Workflow{
		Name:    name,
		Version: version,
		Tasks:   make(map[string]*TaskNode),
	}
}

// AddTask registers a task node. Returns a ValidationError if the id is
// already registered in this workflow (spec §3 invariant: "task ids unique
// within the workflow").
func (w *Workflow) AddTask(node *TaskNode) error {
	if node.ID == "" {
		return &cloaca.ValidationError{
			Field: "task.id",
			Code:  cloaca.ValidationCodeEmptyWorkflowName,
			Msg:   "task id must not be empty",
		}
	}
	if _, exists := w.Tasks[node.ID]; exists {
		return &cloaca.ValidationError{
			Field: node.ID,
			Code:  cloaca.ValidationCodeDuplicateTaskID,
			Msg:   fmt.Sprintf("task id %q is already registered in workflow %q", node.ID, w.Name),
		}
	}
	w.Tasks[node.ID] = node
	w.order = append(w.order, node.ID)
	return nil
}

// Validate checks the three invariants of spec §3 "Workflow": task ids
// unique within the workflow (enforced by AddTask at construction time),
// the dependency graph is acyclic, and every declared dependency resolves
// to a node in the same workflow.
func (w *Workflow) Validate() error {
	for id, node := range w.Tasks {
		for _, dep := range node.Dependencies {
			if _, ok := w.Tasks[dep.TaskID]; !ok {
				return &cloaca.ValidationError{
					Field: id,
					Code:  cloaca.ValidationCodeMissingDependency,
					Msg:   fmt.Sprintf("task %q depends on undefined task %q", id, dep.TaskID),
				}
			}
		}
	}
	return w.detectCycle()
}

// detectCycle performs a three-color DFS over the dependency graph (edges
// point from a task to its predecessors) and returns a ValidationError
// naming the task at which a cycle was found.
func (w *Workflow) detectCycle() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Tasks))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		node := w.Tasks[id]
		for _, dep := range node.Dependencies {
			switch color[dep.TaskID] {
			case gray:
				return &cloaca.ValidationError{
					Field: id,
					Code:  cloaca.ValidationCodeCycle,
					Msg:   fmt.Sprintf("dependency cycle detected at task %q -> %q", id, dep.TaskID),
				}
			case white:
				if err := visit(dep.TaskID); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range w.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Roots returns the task ids with no dependencies at all — the set the
// scheduler marks Ready when a pipeline execution starts (spec §4.1
// "start").
func (w *Workflow) Roots() []string {
	var roots []string
	for _, id := range w.order {
		if len(w.Tasks[id].Dependencies) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Successors returns the task ids that directly depend on taskID.
func (w *Workflow) Successors(taskID string) []string {
	var out []string
	for _, id := range w.order {
		for _, dep := range w.Tasks[id].Dependencies {
			if dep.TaskID == taskID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// fingerprintView is the canonical, order-independent shape hashed to
// produce Fingerprint; field names are part of the stable wire format.
type fingerprintView struct {
	Name  string             `json:"name"`
	Tasks []fingerprintTask  `json:"tasks"`
}

type fingerprintTask struct {
	ID           string               `json:"id"`
	Dependencies []fingerprintDep     `json:"dependencies"`
	MaxAttempts  int                  `json:"max_attempts,omitempty"`
	TimeoutNanos int64                `json:"timeout_ns,omitempty"`
}

type fingerprintDep struct {
	TaskID   string `json:"task_id"`
	Rule     string `json:"rule"`
	Optional bool   `json:"optional,omitempty"`
}

// Fingerprint computes a stable SHA-256 hash over the canonical serialized
// workflow definition (spec §3 "per-workflow fingerprint"), used to detect
// silent redefinition when a package is re-registered under the same
// (name, version).
func (w *Workflow) Fingerprint() (string, error) {
	ids := make([]string, 0, len(w.Tasks))
	for id := range w.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	view := fingerprintView{Name: w.Name}
	for _, id := range ids {
		node := w.Tasks[id]
		deps := make([]fingerprintDep, 0, len(node.Dependencies))
		sortedDeps := append([]Dependency(nil), node.Dependencies...)
		sort.Slice(sortedDeps, func(i, j int) bool { return sortedDeps[i].TaskID < sortedDeps[j].TaskID })
		for _, dep := range sortedDeps {
			deps = append(deps, fingerprintDep{TaskID: dep.TaskID, Rule: dep.Rule.String(), Optional: dep.Optional})
		}

		ft := fingerprintTask{ID: id, Dependencies: deps, TimeoutNanos: int64(node.Timeout)}
		if node.Retry != nil {
			ft.MaxAttempts = node.Retry.MaxAttempts
		}
		view.Tasks = append(view.Tasks, ft)
	}

	canonical, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("workflow: marshal fingerprint view: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// DependencySatisfied reports whether a dependency's trigger rule is
// satisfied by the predecessor's terminal status name (one of "Completed",
// "Failed", "Skipped", "Cancelled").
func DependencySatisfied(dep Dependency, predecessorStatus string) bool {
	switch dep.Rule {
	case TriggerOnSuccess:
		return predecessorStatus == "Completed"
	case TriggerOnFailure:
		return predecessorStatus == "Failed"
	case TriggerOnSkipped:
		return predecessorStatus == "Skipped"
	case TriggerAlways:
		return isTerminalStatus(predecessorStatus)
	default:
		return false
	}
}

func isTerminalStatus(status string) bool {
	switch status {
	case "Completed", "Failed", "Skipped", "Cancelled":
		return true
	default:
		return false
	}
}

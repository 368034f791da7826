package runner

import (
	"fmt"
	"sync"

	"github.com/colliery-io/cloacina-sub003/internal/executor"
	"github.com/colliery-io/cloacina-sub003/internal/workflow"
)

// WorkflowRegistry is the explicit registry object the runner owns (spec
// §9 design note: "Re-architect as an explicit registry object owned by
// the runner, populated either by a builder pattern at startup or by
// reflection over a loaded package's manifest" — replacing the teacher
// source's process-wide global table). It satisfies both
// internal/executor.Registry/WorkflowLookup and
// internal/recovery.WorkflowLookup, so a single instance wires every
// consumer that needs to resolve a workflow name to its DAG or a task id
// to its body.
//
// A workflow is addressed by (name, version); the empty version string is
// treated as a registry-wide default so a deployment with exactly one
// build of each workflow can omit it entirely.
type WorkflowRegistry struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow           // "name@version" -> DAG
	latest    map[string]string                       // name -> most recently registered version
	bodies    map[string]map[string]executor.TaskFunc // workflow name -> task id -> body
}

// NewWorkflowRegistry constructs an empty registry.
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{
		workflows: make(map[string]*workflow.Workflow),
		latest:    make(map[string]string),
		bodies:    make(map[string]map[string]executor.TaskFunc),
	}
}

func workflowKey(name, version string) string { return name + "@" + version }

// RegisterWorkflow adds wf to the registry, validating its DAG first (spec
// §3 "Workflow" invariants). Re-registering the same (name, version) with
// a different fingerprint is rejected, since a pipeline already running
// against the old definition would otherwise observe its dependency graph
// change mid-flight.
func (r *WorkflowRegistry) RegisterWorkflow(wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	key := workflowKey(wf.Name, wf.Version)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.workflows[key]; ok {
		existingFp, err := existing.Fingerprint()
		if err != nil {
			return err
		}
		newFp, err := wf.Fingerprint()
		if err != nil {
			return err
		}
		if existingFp != newFp {
			return fmt.Errorf("runner: workflow %s@%s already registered with a different definition (fingerprint %s != %s)", wf.Name, wf.Version, existingFp, newFp)
		}
		return nil
	}

	r.workflows[key] = wf
	r.latest[wf.Name] = wf.Version
	if _, ok := r.bodies[wf.Name]; !ok {
		r.bodies[wf.Name] = make(map[string]executor.TaskFunc)
	}
	return nil
}

// RegisterTask binds a task body to (workflowName, taskID). The task must
// already exist as a node in a registered workflow.
func (r *WorkflowRegistry) RegisterTask(workflowName, taskID string, fn executor.TaskFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bodies, ok := r.bodies[workflowName]
	if !ok {
		return fmt.Errorf("runner: no workflow named %q registered", workflowName)
	}
	bodies[taskID] = fn
	return nil
}

// Workflow implements executor.WorkflowLookup and recovery.WorkflowLookup.
// An empty version resolves to the most recently registered version for
// that name.
func (r *WorkflowRegistry) Workflow(name, version string) (*workflow.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" {
		version = r.latest[name]
	}
	wf, ok := r.workflows[workflowKey(name, version)]
	return wf, ok
}

// Lookup implements executor.Registry.
func (r *WorkflowRegistry) Lookup(workflowName, taskID string) (executor.TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bodies, ok := r.bodies[workflowName]
	if !ok {
		return nil, false
	}
	fn, ok := bodies[taskID]
	return fn, ok
}

// LatestVersion returns the most recently registered version string for a
// workflow name, or "" if none is registered.
func (r *WorkflowRegistry) LatestVersion(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest[name]
}

// Package worker contains the workflow registry, the task orchestration
// loop, and the stuck-task recovery sweep.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillhq/quill/internal/domain/task"
)

// ErrNoWorkflow is returned when a task type has no registered workflow.
// Tasks hitting this fail without retry: an unregistered type never
// self-heals.
var ErrNoWorkflow = errors.New("no workflow registered for task type")

// Workflow executes one task type. Implementations must be idempotent:
// at-least-once delivery means Execute can run more than once for the
// same task.
type Workflow interface {
	Execute(ctx context.Context, t *task.Task) (*task.Result, error)
}

// Registry maps task types to workflows. It is populated during startup,
// before worker consumption begins, and read-only afterwards, so lookups
// take no lock.
type Registry struct {
	workflows map[task.Type]Workflow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[task.Type]Workflow)}
}

// Register binds a workflow to a task type. Unknown types and duplicate
// registrations are startup bugs and are rejected.
func (r *Registry) Register(typ task.Type, wf Workflow) error {
	if !task.Known(typ) {
		return fmt.Errorf("register: unknown task type %q", typ)
	}
	if _, exists := r.workflows[typ]; exists {
		return fmt.Errorf("register: workflow for %s already registered", typ)
	}
	r.workflows[typ] = wf
	return nil
}

// Get returns the workflow for a task type, or ErrNoWorkflow.
func (r *Registry) Get(typ task.Type) (Workflow, error) {
	wf, ok := r.workflows[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWorkflow, typ)
	}
	return wf, nil
}

// Has reports whether a workflow is registered for the type.
func (r *Registry) Has(typ task.Type) bool {
	_, ok := r.workflows[typ]
	return ok
}

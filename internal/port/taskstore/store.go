// Package taskstore defines the port interface for the durable task record store.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/quillhq/quill/internal/domain/task"
)

// ErrNotFound is returned when no task exists with the requested ID.
var ErrNotFound = errors.New("task not found")

// ListFilter narrows List queries. Zero values mean "any".
type ListFilter struct {
	UserID string
	Status task.Status
	Type   task.Type
	Limit  int
}

// Store is the port interface for persisting task records. The worker holding
// a task's queue lease is the only writer after creation; the store itself
// does no locking beyond single-statement atomicity.
type Store interface {
	// Create persists a new task with status PENDING.
	Create(ctx context.Context, t *task.Task) error

	// Get returns a task by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*task.Task, error)

	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]task.Task, error)

	// MarkRunning transitions PENDING→RUNNING and stamps started_at once.
	// Re-marking an already RUNNING task is a no-op (at-least-once redelivery).
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error

	// MarkCompleted transitions to COMPLETED with output data.
	// A task already in a terminal state is left untouched.
	MarkCompleted(ctx context.Context, id string, output json.RawMessage, completedAt time.Time) error

	// MarkFailed transitions to FAILED with an error message.
	// A task already COMPLETED is left untouched.
	MarkFailed(ctx context.Context, id string, errMsg string, completedAt time.Time) error

	// ListStuckRunning returns tasks that have been RUNNING for longer than
	// the given age. Used by the recovery sweep.
	ListStuckRunning(ctx context.Context, olderThan time.Duration) ([]task.Task, error)
}

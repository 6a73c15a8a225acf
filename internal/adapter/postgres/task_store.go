package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/taskstore"
)

// TaskStore implements taskstore.Store on PostgreSQL. Status transitions
// are enforced in the UPDATE predicates, so a late or duplicate writer
// can never move a task out of a terminal state.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a TaskStore backed by the given pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskColumns = `id, user_id, type, status, input_data, output_data, error, started_at, completed_at, created_at`

// Create persists a new task with status PENDING, assigning its ID and
// creation time if unset.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Status = task.StatusPending

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, user_id, type, status, input_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.Type, t.Status, t.InputData, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns a task by ID, or taskstore.ErrNotFound.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, taskstore.ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching the filter, newest first.
func (s *TaskStore) List(ctx context.Context, filter taskstore.ListFilter) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// MarkRunning transitions PENDING→RUNNING and stamps started_at once.
// Already-RUNNING tasks match the predicate but keep their original
// started_at; terminal tasks are untouched.
func (s *TaskStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, started_at = COALESCE(started_at, $3)
		 WHERE id = $1 AND status IN ($4, $2)`,
		id, task.StatusRunning, startedAt, task.StatusPending)
	if err != nil {
		return fmt.Errorf("mark task %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// MarkCompleted transitions to COMPLETED with output data. Tasks already
// in a terminal state are untouched.
func (s *TaskStore) MarkCompleted(ctx context.Context, id string, output json.RawMessage, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, output_data = $3, error = NULL, completed_at = $4
		 WHERE id = $1 AND status NOT IN ($5, $6)`,
		id, task.StatusCompleted, output, completedAt,
		task.StatusCompleted, task.StatusFailed)
	if err != nil {
		return fmt.Errorf("mark task %s completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Redelivered work finishing a second time is not an error.
		t, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if t.Status == task.StatusCompleted {
			return nil
		}
		return fmt.Errorf("task %s is %s, cannot complete", id, t.Status)
	}
	return nil
}

// MarkFailed transitions to FAILED with an error message. A COMPLETED task
// is untouched; re-failing an already FAILED task is a no-op.
func (s *TaskStore) MarkFailed(ctx context.Context, id string, errMsg string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, error = $3, completed_at = $4
		 WHERE id = $1 AND status != $5`,
		id, task.StatusFailed, errMsg, completedAt, task.StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark task %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		t, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if t.Status == task.StatusCompleted {
			return nil
		}
		return fmt.Errorf("task %s is %s, cannot fail", id, t.Status)
	}
	return nil
}

// ListStuckRunning returns RUNNING tasks whose started_at is older than
// the given age.
func (s *TaskStore) ListStuckRunning(ctx context.Context, olderThan time.Duration) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = $1 AND started_at < $2
		 ORDER BY started_at ASC`,
		task.StatusRunning, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stuck tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// transitionConflict explains why a guarded MarkRunning matched no rows.
func (s *TaskStore) transitionConflict(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s, cannot mark running", id, t.Status)
}

// scanTask reads one row in taskColumns order. Error is stored as a
// nullable column but surfaces as an empty string.
func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t      task.Task
		errMsg *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Status, &t.InputData,
		&t.OutputData, &errMsg, &t.StartedAt, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		t.Error = *errMsg
	}
	return &t, nil
}

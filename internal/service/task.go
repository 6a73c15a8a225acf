package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillhq/quill/internal/adapter/otel"
	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/queue"
	"github.com/quillhq/quill/internal/port/taskstore"
)

// TaskService is the producer boundary: persist a task, hand it to the
// queue, publish the lifecycle event.
type TaskService struct {
	store     taskstore.Store
	queue     queue.Queue
	queueName string
	events    *Publisher
	metrics   *otel.Metrics
}

// NewTaskService creates the producer service. events and metrics may be
// nil.
func NewTaskService(store taskstore.Store, q queue.Queue, queueName string, events *Publisher, metrics *otel.Metrics) *TaskService {
	return &TaskService{
		store:     store,
		queue:     q,
		queueName: queueName,
		events:    events,
		metrics:   metrics,
	}
}

// Create persists a PENDING task and enqueues it. If the enqueue fails
// the task is marked FAILED immediately: nothing will ever deliver it to
// a worker, so leaving it PENDING would strand it.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("create task: user_id is required")
	}
	if !task.Known(req.Type) {
		return nil, fmt.Errorf("create task: unknown task type %q", req.Type)
	}

	t := &task.Task{
		UserID:    req.UserID,
		Type:      req.Type,
		InputData: req.InputData,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	msgID, err := s.queue.Enqueue(ctx, s.queueName, t.ID)
	if err != nil {
		errMsg := fmt.Sprintf("enqueue failed: %v", err)
		if markErr := s.store.MarkFailed(ctx, t.ID, errMsg, time.Now().UTC()); markErr != nil {
			slog.Error("mark unenqueued task failed", "task_id", t.ID, "error", markErr)
		}
		return nil, fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}

	if s.events != nil {
		s.events.PublishTaskEvent(ctx, event.TypeTaskCreated, t)
	}
	if s.metrics != nil {
		s.metrics.TasksCreated.Add(ctx, 1)
	}

	slog.Info("task created", "task_id", t.ID, "type", t.Type,
		"user_id", t.UserID, "msg_id", msgID)
	return t, nil
}

// Get returns a task by ID.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.Get(ctx, id)
}

// List returns tasks matching the filter, newest first.
func (s *TaskService) List(ctx context.Context, filter taskstore.ListFilter) ([]task.Task, error) {
	return s.store.List(ctx, filter)
}

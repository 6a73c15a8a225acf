package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillhq/quill/internal/adapter/otel"
	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/logger"
	"github.com/quillhq/quill/internal/port/notifier"
	"github.com/quillhq/quill/internal/port/queue"
	"github.com/quillhq/quill/internal/port/taskstore"
)

// notifyTaskStatus is the notification event name for task status changes.
const notifyTaskStatus = "task.status"

// Events publishes lifecycle events to the journal stream. Implementations
// are best-effort: publishing never gates task state.
type Events interface {
	PublishTaskEvent(ctx context.Context, typ event.Type, t *task.Task)
}

// PostAction runs after a task reaches a terminal state. Completion
// actions typically chain follow-up tasks; failure actions clean up
// half-done external state. Errors are logged, never acted on.
type PostAction func(ctx context.Context, t *task.Task) error

// Orchestrator drives the per-message task state machine:
// load → RUNNING → dispatch → COMPLETED or FAILED → post-actions.
type Orchestrator struct {
	store    taskstore.Store
	registry *Registry
	notify   notifier.Notifier
	events   Events
	metrics  *otel.Metrics

	onCompletion map[task.Type]PostAction
	onFailure    map[task.Type]PostAction
}

// NewOrchestrator creates the orchestrator. notify, events and metrics
// may be nil; the corresponding side channels are then skipped.
func NewOrchestrator(store taskstore.Store, registry *Registry, notify notifier.Notifier, events Events, metrics *otel.Metrics) *Orchestrator {
	return &Orchestrator{
		store:        store,
		registry:     registry,
		notify:       notify,
		events:       events,
		metrics:      metrics,
		onCompletion: make(map[task.Type]PostAction),
		onFailure:    make(map[task.Type]PostAction),
	}
}

// OnCompletion registers a post-action for successful tasks of a type.
// Call during startup wiring only, alongside Registry.Register.
func (o *Orchestrator) OnCompletion(typ task.Type, fn PostAction) {
	o.onCompletion[typ] = fn
}

// OnFailure registers a failure cleanup for tasks of a type.
func (o *Orchestrator) OnFailure(typ task.Type, fn PostAction) {
	o.onFailure[typ] = fn
}

// Handle is the queue handler. A nil return acknowledges the message; an
// error hands it back to the queue's retry policy.
func (o *Orchestrator) Handle(ctx context.Context, msg queue.Message) error {
	t, err := o.store.Get(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			// Nothing to retry against. Ack and drop.
			slog.Warn("task missing, dropping message",
				"task_id", msg.TaskID, "msg_id", msg.ID)
			return nil
		}
		return fmt.Errorf("load task %s: %w", msg.TaskID, err)
	}

	ctx = logger.WithTaskID(ctx, t.ID)
	log := logger.FromContext(ctx)

	// Redelivery of an already-finished task. Safe to drop.
	if t.Terminal() {
		log.Info("task already terminal, dropping redelivery",
			"status", t.Status, "attempt", msg.Attempt)
		return nil
	}

	ctx, span := otel.StartTaskSpan(ctx, t.ID, string(t.Type))
	defer span.End()

	start := time.Now().UTC()
	if err := o.store.MarkRunning(ctx, t.ID, start); err != nil {
		return fmt.Errorf("mark task %s running: %w", t.ID, err)
	}
	t.Status = task.StatusRunning
	o.notifyStatus(ctx, t)

	wf, err := o.registry.Get(t.Type)
	if err != nil {
		// Unregistered types never self-heal; fail without retry.
		o.fail(ctx, t, err.Error(), start)
		return nil
	}

	res, err := o.execute(ctx, wf, t)
	if err != nil {
		o.fail(ctx, t, err.Error(), start)
		return fmt.Errorf("workflow %s for task %s: %w", t.Type, t.ID, err)
	}
	if res.Failed() {
		o.fail(ctx, t, res.Err, start)
		return fmt.Errorf("workflow %s for task %s: %s", t.Type, t.ID, res.Err)
	}

	completedAt := time.Now().UTC()
	if err := o.store.MarkCompleted(ctx, t.ID, res.Output, completedAt); err != nil {
		return fmt.Errorf("mark task %s completed: %w", t.ID, err)
	}
	t.Status = task.StatusCompleted
	t.OutputData = res.Output
	o.notifyStatus(ctx, t)
	if o.events != nil {
		o.events.PublishTaskEvent(ctx, event.TypeTaskCompleted, t)
	}
	if o.metrics != nil {
		o.metrics.TasksCompleted.Add(ctx, 1)
		o.metrics.TaskDuration.Record(ctx, completedAt.Sub(start).Seconds())
	}

	if fn, ok := o.onCompletion[t.Type]; ok {
		if err := fn(ctx, t); err != nil {
			// Post-processing never flips a COMPLETED task.
			log.Error("completion post-action failed",
				"type", t.Type, "error", err)
		}
	}

	log.Info("task completed", "type", t.Type,
		"duration", completedAt.Sub(start))
	return nil
}

// execute runs the workflow behind a fault boundary: a panicking or
// misbehaving executor becomes an error here, so one bad workflow can
// fail its task and be retried instead of taking the whole worker
// process down.
func (o *Orchestrator) execute(ctx context.Context, wf Workflow, t *task.Task) (res *task.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("workflow panicked",
				"type", t.Type, "panic", r)
			res = nil
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()

	res, err = wf.Execute(ctx, t)
	if err == nil && res == nil {
		err = fmt.Errorf("workflow %s returned no result", t.Type)
	}
	return res, err
}

// fail persists the FAILED state and runs the failure side channels.
func (o *Orchestrator) fail(ctx context.Context, t *task.Task, errMsg string, start time.Time) {
	log := logger.FromContext(ctx)
	completedAt := time.Now().UTC()
	if err := o.store.MarkFailed(ctx, t.ID, errMsg, completedAt); err != nil {
		log.Error("mark task failed", "error", err)
	}
	t.Status = task.StatusFailed
	t.Error = errMsg
	o.notifyStatus(ctx, t)
	if o.events != nil {
		o.events.PublishTaskEvent(ctx, event.TypeTaskFailed, t)
	}
	if o.metrics != nil {
		o.metrics.TasksFailed.Add(ctx, 1)
		o.metrics.TaskDuration.Record(ctx, completedAt.Sub(start).Seconds())
	}

	if fn, ok := o.onFailure[t.Type]; ok {
		if err := fn(ctx, t); err != nil {
			log.Error("failure cleanup failed",
				"type", t.Type, "error", err)
		}
	}

	log.Error("task failed", "type", t.Type, "error", errMsg)
}

// notifyStatus emits a fire-and-forget status notification to the task's
// owner.
func (o *Orchestrator) notifyStatus(ctx context.Context, t *task.Task) {
	if o.notify == nil {
		return
	}
	o.notify.EmitToUser(ctx, t.UserID, notifyTaskStatus, map[string]string{
		"task_id": t.ID,
		"type":    string(t.Type),
		"status":  string(t.Status),
		"error":   t.Error,
	})
}

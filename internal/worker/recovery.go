package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/notifier"
	"github.com/quillhq/quill/internal/port/taskstore"
)

// stuckTaskError is the error recorded on tasks force-failed by the sweep.
const stuckTaskError = "task stuck in RUNNING, failed by recovery sweep"

// Sweeper periodically force-fails tasks stuck in RUNNING longer than a
// threshold. A stuck task usually means a worker died after its queue
// message was dead-lettered, so no redelivery will ever finish it.
type Sweeper struct {
	store    taskstore.Store
	notify   notifier.Notifier
	events   Events
	age      time.Duration
	interval time.Duration
}

// NewSweeper creates a recovery sweeper. notify and events may be nil.
func NewSweeper(store taskstore.Store, notify notifier.Notifier, events Events, age, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		notify:   notify,
		events:   events,
		age:      age,
		interval: interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("recovery sweep started", "age", s.age, "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("recovery sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exported so the producer can trigger it on
// startup before the ticker's first fire.
func (s *Sweeper) Sweep(ctx context.Context) {
	stuck, err := s.store.ListStuckRunning(ctx, s.age)
	if err != nil {
		slog.Error("recovery sweep list failed", "error", err)
		return
	}

	for i := range stuck {
		t := &stuck[i]
		if err := s.store.MarkFailed(ctx, t.ID, stuckTaskError, time.Now().UTC()); err != nil {
			slog.Error("recovery sweep mark failed", "task_id", t.ID, "error", err)
			continue
		}
		t.Status = task.StatusFailed
		t.Error = stuckTaskError

		slog.Warn("stuck task force-failed", "task_id", t.ID,
			"type", t.Type, "started_at", t.StartedAt)

		if s.notify != nil {
			s.notify.EmitToUser(ctx, t.UserID, notifyTaskStatus, map[string]string{
				"task_id": t.ID,
				"type":    string(t.Type),
				"status":  string(t.Status),
				"error":   t.Error,
			})
		}
		if s.events != nil {
			s.events.PublishTaskEvent(ctx, event.TypeTaskFailed, t)
		}
	}
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
)

func TestSweepFailsStuckTasks(t *testing.T) {
	store := newFakeStore()
	notif := &fakeNotifier{}
	events := &fakeEvents{}
	s := NewSweeper(store, notif, events, 30*time.Minute, time.Hour)

	old := time.Now().Add(-time.Hour)
	stuck := store.add(&task.Task{
		UserID:    "u1",
		Type:      task.TypeEntryEnrichment,
		Status:    task.StatusRunning,
		StartedAt: &old,
	})

	recent := time.Now()
	fresh := store.add(&task.Task{
		UserID:    "u1",
		Type:      task.TypeWeeklyDigest,
		Status:    task.StatusRunning,
		StartedAt: &recent,
	})

	s.Sweep(context.Background())

	if got := store.status(t, stuck.ID); got != task.StatusFailed {
		t.Errorf("stuck status = %s, want FAILED", got)
	}
	if got := store.status(t, fresh.ID); got != task.StatusRunning {
		t.Errorf("fresh status = %s, want RUNNING", got)
	}

	stored, _ := store.Get(context.Background(), stuck.ID)
	if stored.Error != stuckTaskError {
		t.Errorf("Error = %q", stored.Error)
	}

	if len(notif.events) != 1 || notif.events[0] != "task.status:FAILED" {
		t.Errorf("notifications = %v", notif.events)
	}
	if len(events.types) != 1 || events.types[0] != event.TypeTaskFailed {
		t.Errorf("events = %v", events.types)
	}
}

func TestSweepNoStuckTasks(t *testing.T) {
	store := newFakeStore()
	s := NewSweeper(store, nil, nil, 30*time.Minute, time.Hour)

	// Nothing to fail; must not panic with nil side channels.
	s.Sweep(context.Background())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	s := NewSweeper(store, nil, nil, time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/quillhq/quill/internal/domain/task"
)

type nopWorkflow struct{}

func (nopWorkflow) Execute(context.Context, *task.Task) (*task.Result, error) {
	return &task.Result{}, nil
}

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(task.TypeEntryEnrichment, nopWorkflow{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Has(task.TypeEntryEnrichment) {
		t.Error("Has = false after Register")
	}

	wf, err := r.Get(task.TypeEntryEnrichment)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if wf == nil {
		t.Fatal("Get returned nil workflow")
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(task.TypeWeeklyDigest)
	if !errors.Is(err, ErrNoWorkflow) {
		t.Fatalf("err = %v, want ErrNoWorkflow", err)
	}
	want := "no workflow registered for task type: WEEKLY_DIGEST"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(task.TypeReminderScan, nopWorkflow{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(task.TypeReminderScan, nopWorkflow{}); err == nil {
		t.Error("expected error on duplicate registration")
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(task.Type("MYSTERY"), nopWorkflow{}); err == nil {
		t.Error("expected error for unknown task type")
	}
	if r.Has(task.Type("MYSTERY")) {
		t.Error("unknown type should not be registered")
	}
}

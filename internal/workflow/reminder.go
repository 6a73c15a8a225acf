package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/inference"
)

// IntentPublisher appends intent events to the journal stream.
// Publishing is best-effort and never fails the workflow.
type IntentPublisher interface {
	PublishUserEvent(ctx context.Context, typ event.Type, userID string, payload any)
}

// reminderInput is the REMINDER_SCAN task payload.
type reminderInput struct {
	EntryID string `json:"entry_id"`
	Content string `json:"content"`
}

// reminder is one commitment the model found in an entry.
type reminder struct {
	Text string `json:"text"`
	Due  string `json:"due,omitempty"` // free-form, as written
}

// reminderOutput is persisted as the task's output data.
type reminderOutput struct {
	EntryID   string     `json:"entry_id"`
	Reminders []reminder `json:"reminders"`
}

// ReminderScan extracts commitments ("call mom on Friday") from an entry
// and publishes a REMINDER_SET event for each.
type ReminderScan struct {
	llm    inference.Client
	intent IntentPublisher
}

// NewReminderScan creates the REMINDER_SCAN executor. intent may be nil.
func NewReminderScan(llm inference.Client, intent IntentPublisher) *ReminderScan {
	return &ReminderScan{llm: llm, intent: intent}
}

func (w *ReminderScan) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	var in reminderInput
	if err := json.Unmarshal(t.InputData, &in); err != nil {
		return &task.Result{Err: fmt.Sprintf("invalid input data: %v", err)}, nil
	}
	if in.Content == "" {
		return &task.Result{Err: "entry has no content"}, nil
	}

	prompt := fmt.Sprintf(`Find commitments or reminders the writer set for
themselves in this journal entry. Return a JSON object with "reminders",
a list of {"text", "due"} items. Return an empty list if there are none.

Entry:
%s`, in.Content)

	var found struct {
		Reminders []reminder `json:"reminders"`
	}
	if err := w.llm.GenerateJSON(ctx, prompt, &found, inference.Options{}); err != nil {
		return nil, fmt.Errorf("scan entry %s for reminders: %w", in.EntryID, err)
	}

	if w.intent != nil {
		for _, r := range found.Reminders {
			w.intent.PublishUserEvent(ctx, event.TypeReminderSet, t.UserID, map[string]string{
				"entry_id": in.EntryID,
				"text":     r.Text,
				"due":      r.Due,
			})
		}
	}

	output, err := json.Marshal(reminderOutput{
		EntryID:   in.EntryID,
		Reminders: found.Reminders,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return &task.Result{Output: output}, nil
}

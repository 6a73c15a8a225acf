// Package task defines the Task domain entity and its lifecycle.
package task

import (
	"encoding/json"
	"time"
)

// Status represents the current state of a task.
// Transitions are monotonic: pending → running → completed | failed.
// There is no transition out of a terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Type identifies the workflow bound to a task. Closed enum: the worker
// rejects anything outside this vocabulary with a dispatch failure.
type Type string

const (
	TypeEntryEnrichment  Type = "ENTRY_ENRICHMENT"
	TypeWeeklyDigest     Type = "WEEKLY_DIGEST"
	TypeMonthlyDigest    Type = "MONTHLY_DIGEST"
	TypePersonaSynthesis Type = "PERSONA_SYNTHESIS"
	TypeReminderScan     Type = "REMINDER_SCAN"
)

// Types lists every known task type. Used by tests and registration checks.
func Types() []Type {
	return []Type{
		TypeEntryEnrichment,
		TypeWeeklyDigest,
		TypeMonthlyDigest,
		TypePersonaSynthesis,
		TypeReminderScan,
	}
}

// Known reports whether t is part of the closed task type enum.
func Known(t Type) bool {
	for _, k := range Types() {
		if k == t {
			return true
		}
	}
	return false
}

// Task represents a durable unit of asynchronous work.
// OutputData and Error are mutually exclusive: OutputData is set only on
// COMPLETED, Error only on FAILED. StartedAt is stamped exactly once, at
// the PENDING→RUNNING transition.
type Task struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	InputData   json.RawMessage `json:"input_data,omitempty"`
	OutputData  json.RawMessage `json:"output_data,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	UserID    string          `json:"user_id"`
	Type      Type            `json:"type"`
	InputData json.RawMessage `json:"input_data,omitempty"`
}

// Result is what a workflow executor returns. Executors report expected
// business failures through Err rather than panicking or returning a Go
// error; a Go error from Execute is reserved for unexpected faults.
type Result struct {
	Output json.RawMessage
	Err    string
}

// Failed reports whether the executor signalled a business-level failure.
func (r *Result) Failed() bool {
	return r.Err != ""
}

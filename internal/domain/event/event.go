// Package event defines the immutable journal event appended to the event stream.
package event

import "encoding/json"

// Type identifies the kind of journal event. The vocabulary is wider than
// the task type enum: lifecycle, intent, context and interaction signals.
type Type string

const (
	// Lifecycle
	TypeTaskCreated   Type = "TASK_CREATED"
	TypeTaskCompleted Type = "TASK_COMPLETED"
	TypeTaskFailed    Type = "TASK_FAILED"

	// Intent
	TypeReminderSet Type = "REMINDER_SET"
	TypeGoalUpdated Type = "GOAL_UPDATED"

	// Context
	TypeEntryCreated Type = "ENTRY_CREATED"
	TypeEntryTagged  Type = "ENTRY_TAGGED"

	// Interaction
	TypeChatMessage    Type = "CHAT_MESSAGE"
	TypeAssistantReply Type = "ASSISTANT_REPLY"
)

// Source records the provenance of an event.
type Source struct {
	Device   string `json:"device,omitempty"`
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Event is an immutable fact. Once appended to the stream it is never
// mutated or deleted; consumers only read and acknowledge.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
	UserID    string          `json:"user_id"`
	Source    Source          `json:"source"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

package ws

// Event name constants for user-facing notifications.
const (
	EventTaskStatus = "task.status"
	EventChatReply  = "chat.reply"
)

// TaskStatusEvent is emitted when a task's status changes.
type TaskStatusEvent struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ChatReplyEvent is emitted when the assistant finishes a chat exchange.
type ChatReplyEvent struct {
	Content string `json:"content"`
}

// Package chat defines the conversation transcript entities.
package chat

import "time"

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is a single transcript entry. The chat loop appends one user turn
// before and one agent turn after each exchange, and reads a recency window
// back to build context for the next turn.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

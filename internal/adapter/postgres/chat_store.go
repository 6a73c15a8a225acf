package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhq/quill/internal/domain/chat"
)

// ChatStore persists conversation transcripts.
type ChatStore struct {
	pool *pgxpool.Pool
}

// NewChatStore creates a ChatStore backed by the given pool.
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// AppendTurn persists one transcript turn, assigning ID and timestamp if
// unset.
func (s *ChatStore) AppendTurn(ctx context.Context, turn *chat.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_turns (id, user_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.ID, turn.UserID, turn.Role, turn.Content, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit most recent turns for a user, ordered
// oldest first so they can be replayed directly into model context.
func (s *ChatStore) RecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, content, created_at FROM (
		     SELECT id, user_id, role, content, created_at
		     FROM chat_turns
		     WHERE user_id = $1
		     ORDER BY created_at DESC
		     LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var t chat.Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

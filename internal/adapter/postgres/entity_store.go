package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEntityNotFound is returned when a user has no entity with the
// requested ID.
var ErrEntityNotFound = errors.New("entity not found")

// EntityStore is the per-user registry of known entity names. Enrichment
// writes it as entries are processed; the chat pre-pass reads it to match
// names in incoming messages.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates an EntityStore backed by the given pool.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

// Upsert records or refreshes an entity name for a user.
func (s *EntityStore) Upsert(ctx context.Context, userID, name, entityID, kind, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (user_id, name, entity_id, kind, summary, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id, name)
		 DO UPDATE SET entity_id = EXCLUDED.entity_id, kind = EXCLUDED.kind,
		               summary = EXCLUDED.summary, updated_at = now()`,
		userID, name, entityID, kind, summary)
	if err != nil {
		return fmt.Errorf("upsert entity %q: %w", name, err)
	}
	return nil
}

// Names returns the user's known entity names mapped to entity IDs.
func (s *EntityStore) Names(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, entity_id FROM entities WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entity names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var name, entityID string
		if err := rows.Scan(&name, &entityID); err != nil {
			return nil, fmt.Errorf("scan entity name: %w", err)
		}
		names[name] = entityID
	}
	return names, rows.Err()
}

// Summary returns the stored one-hop context summary for an entity, or
// ErrEntityNotFound.
func (s *EntityStore) Summary(ctx context.Context, userID, entityID string) (string, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM entities
		 WHERE user_id = $1 AND entity_id = $2
		 ORDER BY updated_at DESC LIMIT 1`,
		userID, entityID).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrEntityNotFound
		}
		return "", fmt.Errorf("entity summary: %w", err)
	}
	return summary, nil
}

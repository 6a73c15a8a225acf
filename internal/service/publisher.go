// Package service contains the producer-side application services.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/stream"
)

// Publisher appends journal events to the event stream. All publishing
// here is best-effort: the stream is a notification and audit substrate,
// never a gate on task or chat state.
type Publisher struct {
	stream stream.Stream
	source event.Source
}

// NewPublisher creates a publisher stamping every event with the source.
func NewPublisher(s stream.Stream, source event.Source) *Publisher {
	return &Publisher{stream: s, source: source}
}

// PublishTaskEvent appends a task lifecycle event.
func (p *Publisher) PublishTaskEvent(ctx context.Context, typ event.Type, t *task.Task) {
	p.PublishUserEvent(ctx, typ, t.UserID, map[string]string{
		"task_id": t.ID,
		"type":    string(t.Type),
		"status":  string(t.Status),
		"error":   t.Error,
	})
}

// PublishUserEvent appends an arbitrary user event. Failures are logged
// and swallowed.
func (p *Publisher) PublishUserEvent(ctx context.Context, typ event.Type, userID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "type", typ, "error", err)
		return
	}

	ev := &event.Event{
		Type:    typ,
		UserID:  userID,
		Source:  p.source,
		Payload: data,
	}
	if _, err := p.stream.Publish(ctx, ev); err != nil {
		slog.Error("event publish failed", "type", typ, "user_id", userID, "error", err)
	}
}

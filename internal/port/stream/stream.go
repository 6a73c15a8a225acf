// Package stream defines the append-only event stream port.
//
// The stream is a notification/audit substrate, deliberately decoupled from
// the task queue: publishing an event does not cause task work, and task
// transitions do not guarantee a published event.
package stream

import (
	"context"

	"github.com/quillhq/quill/internal/domain/event"
)

// Entry pairs an event with its stream-assigned position ID.
type Entry struct {
	StreamID string
	Event    event.Event
}

// Stream is the port interface for the append-only journal event log.
type Stream interface {
	// Publish durably appends an event and returns its stream ID.
	// Either the event is appended or an error is returned; there is no
	// partial append.
	Publish(ctx context.Context, ev *event.Event) (string, error)

	// Read tails the stream non-destructively, returning up to count
	// entries appended after lastID. An empty lastID reads from the start;
	// "$" starts at the newest entry already in the stream, so a
	// Read("$", 1) against a non-empty stream returns that entry.
	Read(ctx context.Context, lastID string, count int) ([]Entry, error)

	// CreateGroup creates a consumer group. Creating a group that already
	// exists is not an error.
	CreateGroup(ctx context.Context, group string) error

	// ReadGroup returns up to count entries not yet claimed by another
	// consumer of the group (competing-consumers). Entries stay pending
	// for the claiming consumer until acknowledged.
	ReadGroup(ctx context.Context, group, consumer string, count int) ([]Entry, error)

	// Ack marks an entry as processed by the group. Callers log Ack
	// failures rather than propagating them: redelivery after a missed ack
	// is the intended safety net.
	Ack(ctx context.Context, group, streamID string) error
}

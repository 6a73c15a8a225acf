// Package nats implements the durable queue and event stream ports using
// NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	taskStreamName  = "QUILL_TASKS"
	eventStreamName = "QUILL_EVENTS"

	eventSubject = "events.journal"

	// headerRequestID propagates the producer's request ID to handlers.
	headerRequestID = "Quill-Request-Id"
	// headerMessageID carries the queue-assigned message ID.
	headerMessageID = "Quill-Msg-Id"
)

// Conn wraps a NATS connection with JetStream enabled and both Quill
// streams provisioned.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the task and event
// streams exist.
func Connect(ctx context.Context, url string) (*Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     taskStreamName,
		Subjects: []string{"tasks.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream task stream create: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     eventStreamName,
		Subjects: []string{"events.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream event stream create: %w", err)
	}

	slog.Info("nats connected", "url", url,
		"task_stream", taskStreamName, "event_stream", eventStreamName)
	return &Conn{nc: nc, js: js}, nil
}

// Close shuts down the NATS connection.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

// Drain gracefully drains subscriptions before closing.
func (c *Conn) Drain() error {
	return c.nc.Drain()
}

// IsConnected reports whether the connection is currently up.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

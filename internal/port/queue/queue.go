// Package queue defines the durable work queue port.
package queue

import (
	"context"
	"time"
)

// Message is the envelope delivered to a worker handler. It references a
// task by ID; the task record itself lives in the task store.
type Message struct {
	ID      string // queue-assigned message ID
	TaskID  string
	Attempt int // 1-based delivery attempt
}

// Handler processes one dequeued message. Returning nil acknowledges the
// message; returning an error leaves it for the queue's retry policy.
// The context carries the request ID propagated from the producer.
type Handler func(ctx context.Context, msg Message) error

// WorkerOptions bounds a registered worker.
type WorkerOptions struct {
	// Concurrency is the number of messages this process handles at once.
	Concurrency int
	// LeaseDuration is how long a delivered message stays locked to this
	// worker before the queue considers it stalled and redelivers.
	// The worker renews the lease while the handler is still running.
	LeaseDuration time.Duration
	// StalledCheckInterval is how often the lease is renewed (heartbeat).
	StalledCheckInterval time.Duration
	// MaxDeliver caps delivery attempts before the message is dead-lettered.
	MaxDeliver int
}

// Queue is the port interface for the durable task queue.
// Delivery is at-least-once: handlers must tolerate duplicates.
type Queue interface {
	// Enqueue appends a message referencing taskID to the named queue and
	// returns the queue-assigned message ID. Failure surfaces synchronously
	// to the producer.
	Enqueue(ctx context.Context, queueName, taskID string) (string, error)

	// RegisterWorker attaches a handler to the named queue. The returned
	// function stops consumption. Registration must happen after all
	// workflows are registered and before any message is processed.
	RegisterWorker(ctx context.Context, queueName string, handler Handler, opts WorkerOptions) (cancel func(), err error)
}

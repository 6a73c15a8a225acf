package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"

	"github.com/quillhq/quill/internal/logger"
	"github.com/quillhq/quill/internal/port/queue"
)

// taskMessage is the wire payload of a queue message.
type taskMessage struct {
	TaskID string `json:"task_id"`
}

// Queue implements queue.Queue using the QUILL_TASKS JetStream stream.
// Each named queue maps to one subject and one durable consumer; the
// consumer's AckWait is the message lease, renewed by in-progress
// heartbeats while a handler runs.
type Queue struct {
	conn *Conn
}

// NewQueue creates the durable queue adapter on an established connection.
func NewQueue(conn *Conn) *Queue {
	return &Queue{conn: conn}
}

// Enqueue appends a message referencing taskID to the named queue.
func (q *Queue) Enqueue(ctx context.Context, queueName, taskID string) (string, error) {
	data, err := json.Marshal(taskMessage{TaskID: taskID})
	if err != nil {
		return "", fmt.Errorf("marshal queue message: %w", err)
	}

	msgID := uuid.NewString()
	msg := &nats.Msg{
		Subject: taskSubject(queueName),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(headerMessageID, msgID)
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}

	if _, err := q.conn.js.PublishMsg(ctx, msg); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return msgID, nil
}

// RegisterWorker attaches a handler to the named queue.
//
// Lease semantics: AckWait is the lease duration; while a handler runs, a
// heartbeat goroutine calls InProgress every StalledCheckInterval to renew
// it. If the process dies mid-handler the heartbeats stop, the lease
// expires, and the server redelivers.
func (q *Queue) RegisterWorker(ctx context.Context, queueName string, handler queue.Handler, opts queue.WorkerOptions) (func(), error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.StalledCheckInterval <= 0 {
		opts.StalledCheckInterval = opts.LeaseDuration / 3
	}

	cons, err := q.conn.js.CreateOrUpdateConsumer(ctx, taskStreamName, jetstream.ConsumerConfig{
		Durable:       durableName(queueName),
		FilterSubject: taskSubject(queueName),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.LeaseDuration,
		MaxDeliver:    opts.MaxDeliver,
		MaxAckPending: opts.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("worker consumer create %s: %w", queueName, err)
	}

	sem := semaphore.NewWeighted(int64(opts.Concurrency))

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		// MaxAckPending already bounds in-flight deliveries; the semaphore
		// additionally bounds handler goroutines in this process.
		if err := sem.Acquire(ctx, 1); err != nil {
			_ = msg.Nak()
			return
		}
		go func() {
			defer sem.Release(1)
			q.process(ctx, queueName, msg, handler, opts)
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("worker consume %s: %w", queueName, err)
	}

	slog.Info("worker registered", "queue", queueName,
		"concurrency", opts.Concurrency, "lease", opts.LeaseDuration)
	return cc.Stop, nil
}

// process runs the handler for one delivery with lease renewal, then acks,
// naks, or dead-letters based on the outcome and attempt count.
func (q *Queue) process(ctx context.Context, queueName string, msg jetstream.Msg, handler queue.Handler, opts queue.WorkerOptions) {
	var payload taskMessage
	if err := json.Unmarshal(msg.Data(), &payload); err != nil {
		slog.Error("malformed queue message, dead-lettering",
			"queue", queueName, "error", err)
		q.deadLetter(ctx, queueName, msg)
		return
	}

	attempt := 1
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}

	hctx := ctx
	if reqID := msg.Headers().Get(headerRequestID); reqID != "" {
		hctx = logger.WithRequestID(ctx, reqID)
	}

	// Renew the lease while the handler runs.
	stopHeartbeat := make(chan struct{})
	go func() {
		ticker := time.NewTicker(opts.StalledCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					slog.Warn("lease renewal failed",
						"queue", queueName, "task_id", payload.TaskID, "error", err)
					return
				}
			}
		}
	}()

	err := handler(hctx, queue.Message{
		ID:      msg.Headers().Get(headerMessageID),
		TaskID:  payload.TaskID,
		Attempt: attempt,
	})
	close(stopHeartbeat)

	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("queue ack failed", "queue", queueName,
				"task_id", payload.TaskID, "error", ackErr)
		}
		return
	}

	slog.Error("queue handler failed", "queue", queueName,
		"task_id", payload.TaskID, "attempt", attempt, "error", err)

	if opts.MaxDeliver > 0 && attempt >= opts.MaxDeliver {
		q.deadLetter(ctx, queueName, msg)
		return
	}

	if nakErr := msg.Nak(); nakErr != nil {
		slog.Error("queue nak failed", "queue", queueName,
			"task_id", payload.TaskID, "error", nakErr)
	}
}

// deadLetter republishes the message to the queue's DLQ subject and acks
// the original so it is not redelivered.
func (q *Queue) deadLetter(ctx context.Context, queueName string, msg jetstream.Msg) {
	dlq := &nats.Msg{
		Subject: taskSubject(queueName) + ".dlq",
		Data:    msg.Data(),
		Header:  msg.Headers(),
	}
	if _, err := q.conn.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("dead-letter publish failed", "queue", queueName, "error", err)
		// Leave the message unacknowledged so the server retries it.
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("dead-letter ack failed", "queue", queueName, "error", err)
	}
	slog.Warn("message dead-lettered", "queue", queueName)
}

func taskSubject(queueName string) string {
	return "tasks." + queueName
}

// durableName sanitizes a queue name into a valid JetStream durable name.
func durableName(queueName string) string {
	return "workers-" + strings.ReplaceAll(queueName, ".", "-")
}

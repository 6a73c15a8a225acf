package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Closer flushes buffered log output on shutdown.
type Closer interface {
	Close()
}

// nopCloser is returned in synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// entry carries the record together with the handler that enqueued it,
// so attributes added via WithAttrs/WithGroup survive the hop through
// the shared channel.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler decouples log emission from I/O. The worker loop logs on
// the hot path between lease renewals, so emission must never block:
// records go through a bounded channel drained by one goroutine, and
// are counted and dropped when the buffer is full.
type AsyncHandler struct {
	inner   slog.Handler
	queue   chan entry
	done    chan struct{}
	dropped *atomic.Int64
}

// NewAsyncHandler wraps inner with a buffer of the given capacity.
func NewAsyncHandler(inner slog.Handler, capacity int) *AsyncHandler {
	if capacity < 1 {
		capacity = 1
	}
	h := &AsyncHandler{
		inner:   inner,
		queue:   make(chan entry, capacity),
		done:    make(chan struct{}),
		dropped: &atomic.Int64{},
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer close(h.done)
	for e := range h.queue {
		_ = e.h.Handle(context.Background(), e.rec)
	}
	if n := h.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
		rec.AddAttrs(slog.Int64("count", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it if the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error {
	select {
	case h.queue <- entry{h: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs shares the queue and drainer; only the inner handler forks.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithAttrs(attrs),
		queue:   h.queue,
		done:    h.done,
		dropped: h.dropped,
	}
}

// WithGroup shares the queue and drainer; only the inner handler forks.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithGroup(name),
		queue:   h.queue,
		done:    h.done,
		dropped: h.dropped,
	}
}

// DroppedCount returns the number of records dropped so far.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records and waits for the drainer to finish.
func (h *AsyncHandler) Close() {
	close(h.queue)
	<-h.done
}

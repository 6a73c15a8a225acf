package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSyncLogger(t *testing.T) {
	log, closer := New(config.Logging{Level: "info", Service: "test"})
	defer closer.Close()

	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	log.Info("hello")
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestID(ctx); got != "req-42" {
		t.Errorf("RequestID = %q, want %q", got, "req-42")
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}
}

func TestTaskIDRoundTrip(t *testing.T) {
	ctx := WithTaskID(context.Background(), "task-7")
	if got := TaskID(ctx); got != "task-7" {
		t.Errorf("TaskID = %q, want %q", got, "task-7")
	}
	if got := TaskID(context.Background()); got != "" {
		t.Errorf("TaskID on empty context = %q, want empty", got)
	}
}

func TestFromContextAnnotates(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-2")
	FromContext(ctx).Info("annotated")

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte(`"request_id":"req-1"`)) ||
		!bytes.Contains([]byte(out), []byte(`"task_id":"task-2"`)) {
		t.Errorf("output = %q, want both IDs", out)
	}
}

func TestAsyncHandlerDeliversRecords(t *testing.T) {
	var buf bytes.Buffer
	out := &syncBuffer{w: &buf}

	inner := slog.NewJSONHandler(out, nil)
	h := NewAsyncHandler(inner, 16)

	log := slog.New(h)
	log.Info("queued message", "k", "v")

	h.Close()

	if !bytes.Contains(buf.Bytes(), []byte("queued message")) {
		t.Errorf("expected drained output to contain record, got %q", buf.String())
	}
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	var buf bytes.Buffer
	out := &syncBuffer{w: &buf}

	h := NewAsyncHandler(slog.NewJSONHandler(out, nil), 16)

	// Attributes added after wrapping must survive the queue hop.
	log := slog.New(h).With("service", "quill-engine")
	log.Info("attributed message")

	h.Close()

	if !bytes.Contains(buf.Bytes(), []byte(`"service":"quill-engine"`)) {
		t.Errorf("derived attrs lost, got %q", buf.String())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	// A blocked inner handler with a tiny channel forces drops.
	blocked := make(chan struct{})
	inner := &blockingHandler{release: blocked}
	h := NewAsyncHandler(inner, 1)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0)
	for range 10 {
		_ = h.Handle(context.Background(), rec)
	}

	if h.DroppedCount() == 0 {
		t.Error("expected dropped records with full channel")
	}

	close(blocked)
	h.Close()
}

// blockingHandler blocks Handle until release is closed.
type blockingHandler struct {
	release chan struct{}
}

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.release
	return nil
}

func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }

// syncBuffer serializes writes from the drain goroutine.
type syncBuffer struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

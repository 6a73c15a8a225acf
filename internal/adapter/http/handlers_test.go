package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/inference"
	"github.com/quillhq/quill/internal/port/queue"
	"github.com/quillhq/quill/internal/port/stream"
	"github.com/quillhq/quill/internal/port/taskstore"
	"github.com/quillhq/quill/internal/service"
)

type stubStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newStubStore() *stubStore {
	return &stubStore{tasks: make(map[string]*task.Task)}
}

func (s *stubStore) Create(_ context.Context, t *task.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = task.StatusPending
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *stubStore) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, taskstore.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *stubStore) List(_ context.Context, filter taskstore.ListFilter) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *stubStore) MarkRunning(context.Context, string, time.Time) error { return nil }
func (s *stubStore) MarkCompleted(context.Context, string, json.RawMessage, time.Time) error {
	return nil
}
func (s *stubStore) MarkFailed(context.Context, string, string, time.Time) error { return nil }
func (s *stubStore) ListStuckRunning(context.Context, time.Duration) ([]task.Task, error) {
	return nil, nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(context.Context, string, string) (string, error) {
	return uuid.NewString(), nil
}

func (stubQueue) RegisterWorker(context.Context, string, queue.Handler, queue.WorkerOptions) (func(), error) {
	return func() {}, nil
}

type stubStream struct {
	entries []stream.Entry
}

func (s *stubStream) Publish(context.Context, *event.Event) (string, error) { return "1", nil }

func (s *stubStream) Read(_ context.Context, _ string, count int) ([]stream.Entry, error) {
	if count < len(s.entries) {
		return s.entries[:count], nil
	}
	return s.entries, nil
}

func (s *stubStream) CreateGroup(context.Context, string) error { return nil }
func (s *stubStream) ReadGroup(context.Context, string, string, int) ([]stream.Entry, error) {
	return nil, nil
}
func (s *stubStream) Ack(context.Context, string, string) error { return nil }

// echoLLM answers every chat call with fixed text.
type echoLLM struct{ text string }

func (e echoLLM) GenerateText(context.Context, string, inference.Options) (string, error) {
	return e.text, nil
}
func (e echoLLM) GenerateJSON(context.Context, string, any, inference.Options) error { return nil }
func (e echoLLM) GenerateWithTools(context.Context, []inference.Message, []inference.Tool, inference.Options) (*inference.ToolResponse, error) {
	return &inference.ToolResponse{Text: e.text}, nil
}
func (e echoLLM) GenerateEmbeddings(context.Context, string) ([]float32, error) { return nil, nil }

func testRouter(t *testing.T, store *stubStore, events stream.Stream) chi.Router {
	t.Helper()
	tasks := service.NewTaskService(store, stubQueue{}, "agent-tasks", nil, nil)
	loop := chat.NewLoop(echoLLM{text: "hello there"}, chat.NewTools(), nil, nil, nil, nil, nil, chat.Options{MaxIterations: 5})

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(tasks, loop, events), nil)
	return r
}

func doRequest(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	store := newStubStore()
	r := testRouter(t, store, nil)

	rec := doRequest(t, r, http.MethodPost, "/api/tasks",
		`{"user_id":"u1","type":"ENTRY_ENRICHMENT","input_data":{"entry_id":"e1"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" || created.Status != task.StatusPending {
		t.Errorf("created = %+v", created)
	}
}

func TestCreateTaskUnknownType(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/tasks",
		`{"user_id":"u1","type":"NOT_A_TYPE"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateTaskInvalidBody(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/tasks", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	store := newStubStore()
	tk := &task.Task{UserID: "u1", Type: task.TypeWeeklyDigest}
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := testRouter(t, store, nil)

	rec := doRequest(t, r, http.MethodGet, "/api/tasks/"+tk.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/tasks/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListTasksEmpty(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/api/tasks?user_id=u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestListTasksInvalidLimit(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/api/tasks?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChat(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodPost, "/api/chat",
		`{"user_id":"u1","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Reply != "hello there" {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestChatValidation(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	for _, body := range []string{
		`{"message":"hi"}`,
		`{"user_id":"u1"}`,
	} {
		rec := doRequest(t, r, http.MethodPost, "/api/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestTailEvents(t *testing.T) {
	events := &stubStream{entries: []stream.Entry{
		{StreamID: "1", Event: event.Event{Type: event.TypeTaskCreated, UserID: "u1"}},
		{StreamID: "2", Event: event.Event{Type: event.TypeTaskCompleted, UserID: "u1"}},
	}}
	r := testRouter(t, newStubStore(), events)

	rec := doRequest(t, r, http.MethodGet, "/api/events?count=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []stream.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].StreamID != "1" {
		t.Errorf("entries = %+v", got)
	}
}

func TestTailEventsUnavailable(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	r := testRouter(t, newStubStore(), nil)

	rec := doRequest(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

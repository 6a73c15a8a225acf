// Package http is the producer HTTP boundary: create and inspect tasks,
// drive the chat loop, tail the event stream.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/stream"
	"github.com/quillhq/quill/internal/port/taskstore"
	"github.com/quillhq/quill/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	tasks  *service.TaskService
	chat   *chat.Loop
	events stream.Stream
}

// NewHandlers creates the handler set. chat and events may be nil; their
// endpoints then answer 503.
func NewHandlers(tasks *service.TaskService, chatLoop *chat.Loop, events stream.Stream) *Handlers {
	return &Handlers{tasks: tasks, chat: chatLoop, events: events}
}

// CreateTask handles POST /api/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !task.Known(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown task type")
		return
	}

	created, err := h.tasks.Create(r.Context(), req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetTask handles GET /api/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTasks handles GET /api/tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := taskstore.ListFilter{
		UserID: q.Get("user_id"),
		Status: task.Status(q.Get("status")),
		Type:   task.Type(q.Get("type")),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// Chat handles POST /api/chat: one synchronous exchange with the
// assistant.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}

	req, ok := readJSON[chatRequest](w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.chat.Run(r.Context(), req.UserID, req.Message)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// TailEvents handles GET /api/events?after=<id>&count=<n>: a
// non-destructive tail of the journal stream for audit and debugging.
func (h *Handlers) TailEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not available")
		return
	}

	after := r.URL.Query().Get("after")
	count := 50
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = n
	}

	entries, err := h.events.Read(r.Context(), after, count)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []stream.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeInternalError logs the actual error server-side and returns a
// generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

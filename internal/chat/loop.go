package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quillhq/quill/internal/adapter/otel"
	chatdomain "github.com/quillhq/quill/internal/domain/chat"
	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/port/inference"
	"github.com/quillhq/quill/internal/port/notifier"
)

// FallbackAnswer is returned when the iteration budget runs out before
// the model produces a plain-text answer.
const FallbackAnswer = "I wasn't able to finish working through that request. Please try rephrasing."

// notifyChatReply is the notification event name for finished exchanges.
const notifyChatReply = "chat.reply"

const systemPrompt = `You are Quill, a thoughtful journaling assistant. You help
the user reflect on their entries, recall past moments, and manage reminders.
Use the available tools to look things up instead of guessing. Answer briefly
and warmly.`

// TranscriptStore persists conversation turns and reads the recency window.
type TranscriptStore interface {
	AppendTurn(ctx context.Context, turn *chatdomain.Turn) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]chatdomain.Turn, error)
}

// Events appends interaction events to the journal stream, best-effort.
type Events interface {
	PublishUserEvent(ctx context.Context, typ event.Type, userID string, payload any)
}

// Options configures the loop.
type Options struct {
	MaxIterations int // iteration budget per user turn
	HistoryWindow int // transcript turns replayed as context
}

// Loop drives one user turn as a bounded state machine: send transcript
// plus tool catalog, execute requested tools, fold results back, repeat
// until the model answers in plain text or the budget is spent. The
// budget is the loop's only cancellation mechanism.
type Loop struct {
	llm      inference.Client
	tools    *Tools
	entities *EntityResolver
	store    TranscriptStore
	notify   notifier.Notifier
	events   Events
	metrics  *otel.Metrics
	opts     Options
}

// NewLoop creates the chat loop. entities, store, notify, events and
// metrics may each be nil.
func NewLoop(llm inference.Client, tools *Tools, entities *EntityResolver, store TranscriptStore, notify notifier.Notifier, events Events, metrics *otel.Metrics, opts Options) *Loop {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 5
	}
	if opts.HistoryWindow < 0 {
		opts.HistoryWindow = 0
	}
	return &Loop{
		llm:      llm,
		tools:    tools,
		entities: entities,
		store:    store,
		notify:   notify,
		events:   events,
		metrics:  metrics,
		opts:     opts,
	}
}

// Run handles one user message and returns the assistant's answer. Only
// inference transport failures surface as errors; tool failures and
// budget exhaustion resolve to an answer.
func (l *Loop) Run(ctx context.Context, userID, message string) (string, error) {
	ctx, span := otel.StartChatSpan(ctx, userID)
	defer span.End()

	system := l.buildSystemPrompt(ctx, userID, message)
	messages := l.history(ctx, userID)
	messages = append(messages, inference.Message{Role: "user", Content: message})

	answer := FallbackAnswer
	for i := 0; i < l.opts.MaxIterations; i++ {
		resp, err := l.llm.GenerateWithTools(ctx, messages, l.tools.Catalog(), inference.Options{
			System: system,
		})
		if err != nil {
			return "", fmt.Errorf("chat iteration %d: %w", i+1, err)
		}

		if len(resp.ToolCalls) == 0 && resp.Text != "" {
			answer = resp.Text
			break
		}
		if len(resp.ToolCalls) == 0 {
			// Neither text nor calls; give the model another iteration.
			slog.Debug("empty model response", "user_id", userID, "iteration", i+1)
			continue
		}

		messages = append(messages, inference.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, l.executeCalls(ctx, userID, resp.ToolCalls)...)
	}

	l.finish(ctx, userID, message, answer)
	return answer, nil
}

// buildSystemPrompt runs the entity pre-pass and folds any one-hop
// summaries into the system prompt.
func (l *Loop) buildSystemPrompt(ctx context.Context, userID, message string) string {
	if l.entities == nil {
		return systemPrompt
	}
	summaries := l.entities.ContextFor(ctx, userID, message)
	if len(summaries) == 0 {
		return systemPrompt
	}
	return systemPrompt + "\n\nContext about people and things the user mentioned:\n- " +
		strings.Join(summaries, "\n- ")
}

// history replays the recency window as model messages.
func (l *Loop) history(ctx context.Context, userID string) []inference.Message {
	if l.store == nil || l.opts.HistoryWindow == 0 {
		return nil
	}
	turns, err := l.store.RecentTurns(ctx, userID, l.opts.HistoryWindow)
	if err != nil {
		slog.Warn("transcript window read failed", "user_id", userID, "error", err)
		return nil
	}

	messages := make([]inference.Message, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == chatdomain.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, inference.Message{Role: role, Content: turn.Content})
	}
	return messages
}

// executeCalls runs every requested tool and returns the result messages
// fed back to the model.
func (l *Loop) executeCalls(ctx context.Context, userID string, calls []inference.ToolCall) []inference.Message {
	results := make([]inference.Message, 0, len(calls))
	for _, call := range calls {
		callCtx, span := otel.StartToolCallSpan(ctx, call.ID, call.Name)
		res := l.tools.Execute(callCtx, userID, call)
		span.End()

		if l.metrics != nil {
			l.metrics.ToolCalls.Add(ctx, 1)
		}

		data, err := json.Marshal(res)
		if err != nil {
			data = []byte(`{"status":"error","error":"unserializable tool result"}`)
		}
		results = append(results, inference.Message{
			Role:       "tool",
			Content:    string(data),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return results
}

// finish persists both turns and emits the interaction side effects.
// All of it is best-effort; the answer is already decided.
func (l *Loop) finish(ctx context.Context, userID, message, answer string) {
	now := time.Now().UTC()

	if l.store != nil {
		userTurn := &chatdomain.Turn{
			UserID: userID, Role: chatdomain.RoleUser, Content: message, Timestamp: now,
		}
		if err := l.store.AppendTurn(ctx, userTurn); err != nil {
			slog.Error("persist user turn failed", "user_id", userID, "error", err)
		}
		agentTurn := &chatdomain.Turn{
			UserID: userID, Role: chatdomain.RoleAgent, Content: answer,
			Timestamp: now.Add(time.Millisecond),
		}
		if err := l.store.AppendTurn(ctx, agentTurn); err != nil {
			slog.Error("persist agent turn failed", "user_id", userID, "error", err)
		}
	}

	if l.events != nil {
		l.events.PublishUserEvent(ctx, event.TypeChatMessage, userID,
			map[string]string{"content": message})
		l.events.PublishUserEvent(ctx, event.TypeAssistantReply, userID,
			map[string]string{"content": answer})
	}

	if l.notify != nil {
		l.notify.EmitToUser(ctx, userID, notifyChatReply, map[string]string{
			"content": answer,
		})
	}

	if l.metrics != nil {
		l.metrics.ChatExchanges.Add(ctx, 1)
	}
}

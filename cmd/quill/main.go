// Command quill runs the journaling assistant engine: the HTTP producer
// surface, the task worker, the recovery sweep, and the chat loop in one
// process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	qhttp "github.com/quillhq/quill/internal/adapter/http"
	"github.com/quillhq/quill/internal/adapter/litellm"
	qnats "github.com/quillhq/quill/internal/adapter/nats"
	"github.com/quillhq/quill/internal/adapter/otel"
	"github.com/quillhq/quill/internal/adapter/postgres"
	"github.com/quillhq/quill/internal/adapter/ristretto"
	"github.com/quillhq/quill/internal/adapter/ws"
	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/logger"
	"github.com/quillhq/quill/internal/port/inference"
	"github.com/quillhq/quill/internal/port/queue"
	"github.com/quillhq/quill/internal/port/taskstore"
	"github.com/quillhq/quill/internal/resilience"
	"github.com/quillhq/quill/internal/service"
	"github.com/quillhq/quill/internal/worker"
	"github.com/quillhq/quill/internal/workflow"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"queue", cfg.Worker.Queue,
		"concurrency", cfg.Worker.Concurrency,
		"lease", cfg.Worker.LeaseDuration,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	conn, err := qnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = conn.Close() }()
	slog.Info("nats connected")

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Adapters ---
	taskStore := postgres.NewTaskStore(pool)
	chatStore := postgres.NewChatStore(pool)
	entityStore := postgres.NewEntityStore(pool)
	taskQueue := qnats.NewQueue(conn)
	eventStream := qnats.NewStream(conn)
	hub := ws.NewHub()

	llm := litellm.NewClient(cfg.LLM)
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	publisher := service.NewPublisher(eventStream, event.Source{
		Platform: "engine",
		Version:  version,
	})

	// --- Services ---
	taskSvc := service.NewTaskService(taskStore, taskQueue, cfg.Worker.Queue, publisher, metrics)

	// --- Worker ---
	// The registry must be fully populated before consumption starts.
	registry := worker.NewRegistry()
	workflows := map[task.Type]worker.Workflow{
		task.TypeEntryEnrichment:  workflow.NewEnrichment(llm, entityStore),
		task.TypeWeeklyDigest:     workflow.NewWeeklyDigest(llm),
		task.TypeMonthlyDigest:    workflow.NewMonthlyDigest(llm),
		task.TypePersonaSynthesis: workflow.NewPersona(llm),
		task.TypeReminderScan:     workflow.NewReminderScan(llm, publisher),
	}
	for typ, wf := range workflows {
		if err := registry.Register(typ, wf); err != nil {
			return fmt.Errorf("register workflow: %w", err)
		}
	}

	orch := worker.NewOrchestrator(taskStore, registry, hub, publisher, metrics)
	orch.OnCompletion(task.TypeEntryEnrichment, func(ctx context.Context, done *task.Task) error {
		// Every enriched entry gets scanned for reminders.
		_, err := taskSvc.Create(ctx, task.CreateRequest{
			UserID:    done.UserID,
			Type:      task.TypeReminderScan,
			InputData: done.InputData,
		})
		return err
	})

	stopWorker, err := taskQueue.RegisterWorker(ctx, cfg.Worker.Queue, orch.Handle, queue.WorkerOptions{
		Concurrency:          cfg.Worker.Concurrency,
		LeaseDuration:        cfg.Worker.LeaseDuration,
		StalledCheckInterval: cfg.Worker.StalledCheckInterval,
		MaxDeliver:           cfg.Worker.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	defer stopWorker()

	// --- Recovery sweep ---
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweeper := worker.NewSweeper(taskStore, hub, publisher,
		cfg.Recovery.StuckTaskAge, cfg.Recovery.SweepInterval)
	sweeper.Sweep(sweepCtx)
	go sweeper.Run(sweepCtx)

	// --- Chat ---
	tools := chat.NewTools()
	if err := registerChatTools(tools, taskSvc, publisher); err != nil {
		return fmt.Errorf("register chat tools: %w", err)
	}
	resolver := chat.NewEntityResolver(entityStore, cache, cfg.Cache.TTL)
	loop := chat.NewLoop(llm, tools, resolver, chatStore, hub, publisher, metrics, chat.Options{
		MaxIterations: cfg.Chat.MaxIterations,
		HistoryWindow: cfg.Chat.HistoryWindow,
	})

	// --- HTTP ---
	handlers := qhttp.NewHandlers(taskSvc, loop, eventStream)

	r := chi.NewRouter()
	r.Use(qhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(qhttp.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	qhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// registerChatTools binds the assistant's tool catalog to the producer
// services.
func registerChatTools(tools *chat.Tools, tasks *service.TaskService, publisher *service.Publisher) error {
	err := tools.Register(inference.Tool{
		Name:        "list_recent_tasks",
		Description: "List the user's recent background tasks and their statuses.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["PENDING", "RUNNING", "COMPLETED", "FAILED"]},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50}
			}
		}`),
	}, func(ctx context.Context, userID string, args json.RawMessage) (any, error) {
		var in struct {
			Status string `json:"status"`
			Limit  int    `json:"limit"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		if in.Limit < 1 || in.Limit > 50 {
			in.Limit = 10
		}
		return tasks.List(ctx, taskstore.ListFilter{
			UserID: userID,
			Status: task.Status(in.Status),
			Limit:  in.Limit,
		})
	})
	if err != nil {
		return err
	}

	err = tools.Register(inference.Tool{
		Name:        "request_digest",
		Description: "Start a weekly or monthly digest of the user's journal entries.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"span": {"type": "string", "enum": ["week", "month"]},
				"period": {"type": "string"},
				"entries": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["span", "period"]
		}`),
	}, func(ctx context.Context, userID string, args json.RawMessage) (any, error) {
		var in struct {
			Span    string   `json:"span"`
			Period  string   `json:"period"`
			Entries []string `json:"entries"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		typ := task.TypeWeeklyDigest
		if in.Span == "month" {
			typ = task.TypeMonthlyDigest
		}
		input, err := json.Marshal(map[string]any{"period": in.Period, "entries": in.Entries})
		if err != nil {
			return nil, err
		}
		created, err := tasks.Create(ctx, task.CreateRequest{
			UserID:    userID,
			Type:      typ,
			InputData: input,
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"task_id": created.ID, "status": string(created.Status)}, nil
	})
	if err != nil {
		return err
	}

	return tools.Register(inference.Tool{
		Name:        "set_reminder",
		Description: "Record a reminder the user asked for.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string"},
				"due": {"type": "string"}
			},
			"required": ["text"]
		}`),
	}, func(ctx context.Context, userID string, args json.RawMessage) (any, error) {
		var in struct {
			Text string `json:"text"`
			Due  string `json:"due"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if in.Text == "" {
			return nil, fmt.Errorf("text is required")
		}
		publisher.PublishUserEvent(ctx, event.TypeReminderSet, userID, map[string]string{
			"text": in.Text,
			"due":  in.Due,
		})
		return map[string]string{"result": "reminder recorded"}, nil
	})
}

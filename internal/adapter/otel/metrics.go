package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "quill"

// Metrics holds all Quill metric instruments.
type Metrics struct {
	TasksCreated   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	ChatExchanges  metric.Int64Counter
	ToolCalls      metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("quill.tasks.created",
		metric.WithDescription("Number of tasks created"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("quill.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("quill.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("quill.task.duration_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ChatExchanges, err = meter.Int64Counter("quill.chat.exchanges",
		metric.WithDescription("Number of chat exchanges"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("quill.chat.toolcalls",
		metric.WithDescription("Number of tool calls made by the chat loop"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

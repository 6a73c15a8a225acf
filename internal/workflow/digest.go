package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/inference"
)

// digestInput is the WEEKLY_DIGEST / MONTHLY_DIGEST task payload: the
// producer supplies the period label and the entries to summarize.
type digestInput struct {
	Period  string   `json:"period"` // e.g. "2026-W34" or "2026-08"
	Entries []string `json:"entries"`
}

// digestOutput is persisted as the task's output data.
type digestOutput struct {
	Period     string `json:"period"`
	Summary    string `json:"summary"`
	EntryCount int    `json:"entry_count"`
}

// Digest summarizes a period's journal entries into a narrative digest.
// The same executor serves weekly and monthly tasks; only the prompt
// framing differs.
type Digest struct {
	llm  inference.Client
	span string // "week" or "month"
}

// NewWeeklyDigest creates the WEEKLY_DIGEST executor.
func NewWeeklyDigest(llm inference.Client) *Digest {
	return &Digest{llm: llm, span: "week"}
}

// NewMonthlyDigest creates the MONTHLY_DIGEST executor.
func NewMonthlyDigest(llm inference.Client) *Digest {
	return &Digest{llm: llm, span: "month"}
}

func (w *Digest) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	var in digestInput
	if err := json.Unmarshal(t.InputData, &in); err != nil {
		return &task.Result{Err: fmt.Sprintf("invalid input data: %v", err)}, nil
	}
	if len(in.Entries) == 0 {
		return &task.Result{Err: "no entries to digest"}, nil
	}

	prompt := fmt.Sprintf(`Write a short reflective digest of this %s of journal
entries (%s). Mention recurring themes and notable moments, in the second
person, at most three paragraphs.

Entries:
%s`, w.span, in.Period, strings.Join(in.Entries, "\n---\n"))

	summary, err := w.llm.GenerateText(ctx, prompt, inference.Options{})
	if err != nil {
		return nil, fmt.Errorf("generate %s digest: %w", w.span, err)
	}

	output, err := json.Marshal(digestOutput{
		Period:     in.Period,
		Summary:    summary,
		EntryCount: len(in.Entries),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return &task.Result{Output: output}, nil
}

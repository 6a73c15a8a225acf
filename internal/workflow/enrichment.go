// Package workflow contains the executors bound to each task type. They
// are thin: prompt plumbing and result shaping, no orchestration.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/inference"
)

// EntityWriter records entity names discovered during enrichment.
type EntityWriter interface {
	Upsert(ctx context.Context, userID, name, entityID, kind, summary string) error
}

// enrichmentInput is the ENTRY_ENRICHMENT task payload.
type enrichmentInput struct {
	EntryID string `json:"entry_id"`
	Content string `json:"content"`
}

// enrichmentAnalysis is what the model returns for an entry.
type enrichmentAnalysis struct {
	Tags     []string `json:"tags"`
	Mood     string   `json:"mood"`
	Entities []struct {
		Name    string `json:"name"`
		Kind    string `json:"kind"`
		Summary string `json:"summary"`
	} `json:"entities"`
}

// enrichmentOutput is persisted as the task's output data.
type enrichmentOutput struct {
	EntryID       string   `json:"entry_id"`
	Tags          []string `json:"tags"`
	Mood          string   `json:"mood"`
	EntityCount   int      `json:"entity_count"`
	EmbeddingDims int      `json:"embedding_dims"`
}

// Enrichment tags a journal entry, embeds it, and registers mentioned
// entities. Re-running it recomputes the same analysis, so redelivery
// is safe.
type Enrichment struct {
	llm      inference.Client
	entities EntityWriter
}

// NewEnrichment creates the ENTRY_ENRICHMENT executor. entities may be
// nil when no registry is wired.
func NewEnrichment(llm inference.Client, entities EntityWriter) *Enrichment {
	return &Enrichment{llm: llm, entities: entities}
}

func (w *Enrichment) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	var in enrichmentInput
	if err := json.Unmarshal(t.InputData, &in); err != nil {
		return &task.Result{Err: fmt.Sprintf("invalid input data: %v", err)}, nil
	}
	if in.Content == "" {
		return &task.Result{Err: "entry has no content"}, nil
	}

	prompt := fmt.Sprintf(`Analyze this journal entry. Return a JSON object with
"tags" (up to 5 short topic tags), "mood" (one word), and "entities"
(people, places or projects mentioned, each with "name", "kind" and a
one-sentence "summary" of how the entry relates to it).

Entry:
%s`, in.Content)

	var analysis enrichmentAnalysis
	if err := w.llm.GenerateJSON(ctx, prompt, &analysis, inference.Options{}); err != nil {
		return nil, fmt.Errorf("analyze entry %s: %w", in.EntryID, err)
	}

	embedding, err := w.llm.GenerateEmbeddings(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("embed entry %s: %w", in.EntryID, err)
	}

	if w.entities != nil {
		for _, e := range analysis.Entities {
			if e.Name == "" {
				continue
			}
			entityID := entityIDFor(t.UserID, e.Name)
			if err := w.entities.Upsert(ctx, t.UserID, e.Name, entityID, e.Kind, e.Summary); err != nil {
				// Entity registration is enrichment metadata, not the result.
				slog.Warn("entity upsert failed", "name", e.Name, "error", err)
			}
		}
	}

	output, err := json.Marshal(enrichmentOutput{
		EntryID:       in.EntryID,
		Tags:          analysis.Tags,
		Mood:          analysis.Mood,
		EntityCount:   len(analysis.Entities),
		EmbeddingDims: len(embedding),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return &task.Result{Output: output}, nil
}

// entityIDFor derives a stable entity ID from user and name, so repeated
// enrichment runs converge on the same registry row.
func entityIDFor(userID, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"/"+name)).String()
}

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillhq/quill/internal/domain/task"
	"github.com/quillhq/quill/internal/port/inference"
)

// personaInput is the PERSONA_SYNTHESIS task payload: recent digests and
// the previous persona snapshot, if any.
type personaInput struct {
	Digests  []string `json:"digests"`
	Previous string   `json:"previous,omitempty"`
}

// personaOutput is the synthesized persona profile.
type personaOutput struct {
	Profile   string   `json:"profile"`
	Interests []string `json:"interests"`
	Tone      string   `json:"tone"`
}

// Persona distills digests into a profile the assistant uses to match the
// user's voice. Superseding results are fine; the newest snapshot wins.
type Persona struct {
	llm inference.Client
}

// NewPersona creates the PERSONA_SYNTHESIS executor.
func NewPersona(llm inference.Client) *Persona {
	return &Persona{llm: llm}
}

func (w *Persona) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	var in personaInput
	if err := json.Unmarshal(t.InputData, &in); err != nil {
		return &task.Result{Err: fmt.Sprintf("invalid input data: %v", err)}, nil
	}
	if len(in.Digests) == 0 {
		return &task.Result{Err: "no digests to synthesize from"}, nil
	}

	prompt := fmt.Sprintf(`From these journal digests, update the writer's persona
profile. Return a JSON object with "profile" (two sentences), "interests"
(up to 8 short phrases), and "tone" (one phrase describing how they write).

Previous profile: %s

Digests:
%s`, in.Previous, strings.Join(in.Digests, "\n---\n"))

	var out personaOutput
	if err := w.llm.GenerateJSON(ctx, prompt, &out, inference.Options{}); err != nil {
		return nil, fmt.Errorf("synthesize persona: %w", err)
	}

	output, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return &task.Result{Output: output}, nil
}

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"chorus/internal/extract"
	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/markup"
	"chorus/internal/prompts"
)

// Abstractor condenses validated sources into structured digests before
// synthesis. One model call per source keeps per-call context bounded.
type Abstractor struct {
	client  llm.Client
	model   string
	library *prompts.Library
}

// NewAbstractor creates an abstractor using the given chat model.
func NewAbstractor(client llm.Client, model string, library *prompts.Library) *Abstractor {
	return &Abstractor{client: client, model: model, library: library}
}

// Structure digests each passed source and concatenates the results. When no
// per-source call yields a parseable digest, the raw bodies are concatenated
// instead so synthesis always receives something.
func (a *Abstractor) Structure(ctx context.Context, query string, sources []*extract.Source) string {
	timer := logging.StartTimer(logging.CategorySynthesis, "Structure")
	defer timer.Stop()

	var digests []string
	for _, src := range sources {
		digest, err := a.structureOne(ctx, query, src)
		if err != nil {
			logging.Get(logging.CategorySynthesis).Warn("Abstraction failed for %s: %v", src.URL, err)
			continue
		}
		digests = append(digests, fmt.Sprintf("Source: %s (%s, %s)\n%s", src.Title, src.URL, src.PublishedDate, digest))
	}

	if len(digests) > 0 {
		logging.Synthesis("Structured %d/%d source(s)", len(digests), len(sources))
		return strings.Join(digests, "\n\n")
	}

	// Fallback: raw bodies, so synthesis never starves.
	logging.Get(logging.CategorySynthesis).Warn("No source produced a digest, falling back to raw bodies")
	raw := make([]string, 0, len(sources))
	for _, src := range sources {
		raw = append(raw, markup.FormatResult(src.URL, src.PublishedDate, src.Title, src.Body))
	}
	return strings.Join(raw, "\n\n")
}

func (a *Abstractor) structureOne(ctx context.Context, query string, src *extract.Source) (string, error) {
	content := markup.FormatResult(src.URL, src.PublishedDate, src.Title, src.Body)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.library.Get(prompts.Abstraction)},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nSource:\n%s", query, content)},
	}

	reply, err := a.client.Chat(ctx, a.model, messages)
	if err != nil {
		return "", err
	}
	digest, ok := markup.ExtractStructuredData(reply)
	if !ok {
		return "", fmt.Errorf("no structured data block in reply")
	}
	return digest, nil
}

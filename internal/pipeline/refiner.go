package pipeline

import (
	"context"
	"fmt"
	"strings"

	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/markup"
	"chorus/internal/prompts"
)

// RefinementEngine proposes replacement search topics after every source for a
// topic failed validation.
type RefinementEngine struct {
	client  llm.Client
	model   string
	library *prompts.Library
}

// NewRefinementEngine creates a refiner using the given chat model.
func NewRefinementEngine(client llm.Client, model string, library *prompts.Library) *RefinementEngine {
	return &RefinementEngine{client: client, model: model, library: library}
}

// Refine asks the model for alternative topics given the original question,
// the failed sub-query and the aggregated rejection reasons. Zero topics or a
// call failure returns nil; the caller decides whether to fall back to a
// knowledge-only answer.
func (r *RefinementEngine) Refine(ctx context.Context, originalQuery string, failedTopic Topic, failureReasons []string) []Topic {
	timer := logging.StartTimer(logging.CategoryRefine, "Refine")
	defer timer.Stop()

	prompt := fmt.Sprintf(
		"Original question: %s\n\nFailed search query: %s\n\nWhy the results were rejected:\n%s",
		originalQuery, failedTopic.Query, strings.Join(failureReasons, "\n"),
	)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: r.library.Get(prompts.Refiner)},
		{Role: llm.RoleUser, Content: prompt},
	}

	reply, err := r.client.Chat(ctx, r.model, messages)
	if err != nil {
		logging.Get(logging.CategoryRefine).Warn("Refinement call failed for %q: %v", failedTopic.Query, err)
		return nil
	}

	requests := markup.ExtractSearchRequests(reply)
	topics := make([]Topic, 0, len(requests))
	for _, req := range requests {
		// Never retry the failed query verbatim.
		if strings.EqualFold(req.Query, failedTopic.Query) {
			continue
		}
		topics = append(topics, Topic{Query: req.Query, Domain: req.Domain})
	}

	logging.Refine("Proposed %d replacement topic(s) for %q", len(topics), failedTopic.Query)
	return topics
}

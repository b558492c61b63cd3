package pipeline

import (
	"context"
	"fmt"
	"time"

	"chorus/internal/extract"
	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/markup"
	"chorus/internal/prompts"
)

// ValidationItem pairs an extracted source with the sub-query it was
// retrieved for. Validation judges relevance against that sub-query, not the
// whole user question.
type ValidationItem struct {
	Source     *extract.Source
	TopicQuery string
}

// ValidationGate classifies extracted content as usable or not. Ambiguous
// verdicts and transport failures fail closed: excluding an uncertain source
// beats citing it.
type ValidationGate struct {
	client  llm.Client
	model   string
	library *prompts.Library
	timeout time.Duration
}

// NewValidationGate creates a gate with a per-call timeout.
func NewValidationGate(client llm.Client, model string, library *prompts.Library, timeout time.Duration) *ValidationGate {
	return &ValidationGate{client: client, model: model, library: library, timeout: timeout}
}

// ValidateBatch judges each item independently and returns the sources that
// passed plus a human-readable reason for every rejection.
func (g *ValidationGate) ValidateBatch(ctx context.Context, items []ValidationItem) (passed []*extract.Source, reasons []string) {
	timer := logging.StartTimer(logging.CategoryValidate, "ValidateBatch")
	defer timer.Stop()

	for _, item := range items {
		verdict, err := g.validateOne(ctx, item)
		if err != nil {
			verr := &ValidationError{Title: item.Source.Title, Reason: fmt.Sprintf("validator call failed: %v", err)}
			logging.Get(logging.CategoryValidate).Warn("%v", verr)
			reasons = append(reasons, verr.Error())
			continue
		}
		if verdict.Pass {
			logging.Validate("Passed: %s (%s)", item.Source.Title, item.Source.URL)
			passed = append(passed, item.Source)
			continue
		}
		verr := &ValidationError{Title: item.Source.Title, Reason: verdict.Reason}
		logging.Validate("Failed: %v", verr)
		reasons = append(reasons, verr.Error())
	}

	logging.Validate("Batch complete: %d passed, %d rejected", len(passed), len(reasons))
	return passed, reasons
}

func (g *ValidationGate) validateOne(ctx context.Context, item ValidationItem) (markup.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content := markup.FormatResult(item.Source.URL, item.Source.PublishedDate, item.Source.Title, item.Source.Body)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: g.library.Get(prompts.Validator)},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nSource:\n%s", item.TopicQuery, content)},
	}

	reply, err := g.client.Chat(ctx, g.model, messages)
	if err != nil {
		return markup.Verdict{}, err
	}
	return markup.ParseVerdict(reply), nil
}

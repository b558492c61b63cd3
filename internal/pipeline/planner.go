package pipeline

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/markup"
	"chorus/internal/memory"
	"chorus/internal/prompts"
	"chorus/internal/search"
)

// Topic is one search unit produced by planning or refinement. Immutable.
type Topic struct {
	Query  string
	Domain string // optional site hint
}

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"')]+`)

// IntentPlanner turns a raw query plus sanitized history into search topics
// and a coarse intent category.
type IntentPlanner struct {
	client  llm.Client
	model   string
	library *prompts.Library
	now     func() time.Time
}

// NewIntentPlanner creates a planner using the given chat model.
func NewIntentPlanner(client llm.Client, model string, library *prompts.Library, now func() time.Time) *IntentPlanner {
	if now == nil {
		now = time.Now
	}
	return &IntentPlanner{client: client, model: model, library: library, now: now}
}

// Plan decides what to search for. A query naming an absolute URL bypasses the
// model entirely and returns that URL as the single topic with the direct
// category. Any model or parse failure degrades to ([query], general); planning
// never aborts the turn.
func (p *IntentPlanner) Plan(ctx context.Context, query string, history []memory.Recalled) ([]Topic, search.Category) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Plan")
	defer timer.Stop()

	if direct, ok := extractDirectURL(query); ok {
		logging.Planner("Direct URL bypass: %s", direct)
		return []Topic{{Query: direct}}, search.CategoryDirect
	}

	messages := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: prompts.WithTemporalContext(p.library.Get(prompts.SearchIntent), p.now()),
	}}
	for _, turn := range sanitizeHistory(history) {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	reply, err := p.client.Chat(ctx, p.model, messages)
	if err != nil {
		perr := &PlanningError{Query: query, Err: err}
		logging.Get(logging.CategoryPlanner).Warn("%v, falling back to raw query", perr)
		return []Topic{{Query: query}}, search.CategoryGeneral
	}

	category := search.CategoryGeneral
	if raw, ok := markup.ExtractSearchType(reply); ok {
		category = search.ParseCategory(raw)
	}

	var topics []Topic
	for _, t := range markup.ExtractTopics(reply) {
		topics = append(topics, Topic{Query: t})
	}
	if len(topics) == 0 {
		logging.Get(logging.CategoryPlanner).Warn("No topics parsed from planner reply, using raw query")
		topics = []Topic{{Query: query}}
	}

	logging.Planner("Planned %d topic(s), category=%s", len(topics), category)
	return topics, category
}

// extractDirectURL returns the first syntactically valid absolute URL in the
// query, if any.
func extractDirectURL(query string) (string, bool) {
	candidate := urlPattern.FindString(query)
	if candidate == "" {
		return "", false
	}
	candidate = strings.TrimRight(candidate, ".,;:!?")
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return candidate, true
}

// sanitizeHistory strips reasoning blocks and search directives from assistant
// turns so the planner sees clean context. Turns left empty are dropped.
func sanitizeHistory(history []memory.Recalled) []memory.Recalled {
	clean := make([]memory.Recalled, 0, len(history))
	for _, turn := range history {
		content := turn.Content
		if turn.Role == memory.RoleAssistant {
			content = markup.StripThinking(content)
			content = markup.StripSearchRequests(content)
			content = markup.StripSources(content)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		clean = append(clean, memory.Recalled{Role: turn.Role, Content: content})
	}
	return clean
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chorus/internal/config"
	"chorus/internal/extract"
	"chorus/internal/llm"
	"chorus/internal/memory"
	"chorus/internal/prompts"
	"chorus/internal/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- mocks ----------------------------------------------------------------

type stubEngine struct{}

func (stubEngine) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (stubEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (stubEngine) Dimensions() int { return 3 }
func (stubEngine) Name() string    { return "stub" }

// scriptedClient routes chat calls to per-agent handlers keyed on a phrase in
// the system prompt, and counts calls per agent.
type scriptedClient struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(messages []llm.Message) (string, error)
}

var agentPhrases = map[string]string{
	"plan":       "search planning agent",
	"validate":   "content validation agent",
	"refine":     "search refinement agent",
	"abstract":   "content abstraction agent",
	"synthesize": "research synthesis agent",
	"summarize":  "memory summarization agent",
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		calls:    make(map[string]int),
		handlers: make(map[string]func([]llm.Message) (string, error)),
	}
}

func (c *scriptedClient) on(agent string, fn func(messages []llm.Message) (string, error)) {
	c.handlers[agent] = fn
}

func (c *scriptedClient) reply(agent, text string) {
	c.on(agent, func([]llm.Message) (string, error) { return text, nil })
}

func (c *scriptedClient) count(agent string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[agent]
}

func (c *scriptedClient) Chat(_ context.Context, _ string, messages []llm.Message) (string, error) {
	system := messages[0].Content
	for agent, phrase := range agentPhrases {
		if strings.Contains(system, phrase) {
			c.mu.Lock()
			c.calls[agent]++
			c.mu.Unlock()
			if fn, ok := c.handlers[agent]; ok {
				return fn(messages)
			}
			return "", fmt.Errorf("no handler scripted for agent %s", agent)
		}
	}
	return "", fmt.Errorf("unrecognized system prompt: %.60q", system)
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	queries []string
	results []search.Result
	err     error
}

func (p *fakeProvider) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.queries = append(p.queries, query)
	return p.results, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (e *fakeExtractor) Extract(_ context.Context, url string) (*extract.Source, error) {
	e.mu.Lock()
	e.calls = append(e.calls, url)
	e.mu.Unlock()
	if e.fail[url] {
		return nil, &extract.Error{URL: url, Kind: extract.FailureDownload, Err: errors.New("unreachable")}
	}
	return &extract.Source{
		URL:           url,
		Title:         "Title of " + url,
		PublishedDate: "2026-08-28",
		Body:          strings.Repeat("Relevant factual content. ", 30),
		ContentLength: 780,
	}, nil
}

func (e *fakeExtractor) extracted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// ---- fixtures ---------------------------------------------------------------

func testCfg() config.Config {
	cfg := config.DefaultConfig()
	cfg.Search.MaxSourcesPerTopic = 1
	cfg.Search.FetchConcurrency = 2
	cfg.Timeouts.Validation = 5 * time.Second
	cfg.Timeouts.Watchdog = 10 * time.Second
	return cfg
}

func testDeps(t *testing.T, client llm.Client, provider search.Provider, extractor Extractor) Deps {
	t.Helper()
	library, err := prompts.Load("")
	require.NoError(t, err)
	return Deps{
		Client:    client,
		Provider:  provider,
		Extractor: extractor,
		Memory:    memory.NewStore(stubEngine{}),
		Library:   library,
		Sink:      NopSink,
		Now:       func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) },
	}
}

const weatherPlan = "<think>needs a forecast</think><topic>weather in Paris tomorrow</topic><search_type>weather</search_type>"

// ---- scenarios ----------------------------------------------------------------

// Scenario: a weather query where the allow-listed domain must win the ranking,
// be the only extracted source, and be the only citation.
func TestRunWeatherQueryCitesRankedSource(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("plan", weatherPlan)
	client.reply("validate", "<pass>")
	client.reply("abstract", "<structured_data>Rain expected, 17C.</structured_data>")
	client.reply("synthesize", "<think>sources agree</think>Expect rain in Paris tomorrow, around 17C.")
	client.reply("summarize", "User asked about Paris weather; rain expected.")

	provider := &fakeProvider{results: []search.Result{
		{Title: "Paris boards", URL: "https://pinterest.com/paris-weather", Snippet: "pins"},
		{Title: "Paris forecast", URL: "https://weather.com/paris", Snippet: "tomorrow"},
	}}
	extractor := &fakeExtractor{}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, extractor))
	result, err := orch.Run(context.Background(), "What is the weather in Paris tomorrow?")
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://weather.com/paris", result.Sources[0].URL)
	assert.Equal(t, search.CategoryWeather, result.Category)

	assert.Contains(t, result.Answer, "Expect rain")
	assert.Contains(t, result.Answer, `<source url="https://weather.com/paris"`)
	assert.NotContains(t, result.Answer, "pinterest")
	assert.NotContains(t, result.Answer, "<think>")

	assert.Contains(t, extractor.extracted(), "https://weather.com/paris")
}

// Scenario: a query naming its own URL bypasses planning, search and validation.
func TestRunDirectURLBypassesSearchAndValidation(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("abstract", "<structured_data>Article says X.</structured_data>")
	client.reply("synthesize", "<think>read it</think>The article says X.")
	client.reply("summarize", "User asked about an article; it says X.")

	provider := &fakeProvider{}
	extractor := &fakeExtractor{}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, extractor))
	result, err := orch.Run(context.Background(), "Summarize https://example.com/article for me")
	require.NoError(t, err)

	assert.Equal(t, search.CategoryDirect, result.Category)
	assert.Zero(t, provider.callCount(), "direct bypass must not search")
	assert.Zero(t, client.count("plan"), "direct bypass must not call the planner")
	assert.Zero(t, client.count("validate"), "direct bypass must not validate")
	assert.Equal(t, []string{"https://example.com/article"}, extractor.extracted())

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://example.com/article", result.Sources[0].URL)
}

// Scenario: a direct fetch failure explains itself instead of refining.
func TestRunDirectFetchFailureExplains(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	provider := &fakeProvider{}
	extractor := &fakeExtractor{fail: map[string]bool{"https://dead.example.com/x": true}}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, extractor))
	result, err := orch.Run(context.Background(), "read https://dead.example.com/x")
	require.NoError(t, err)

	assert.Contains(t, result.Answer, "https://dead.example.com/x")
	assert.Empty(t, result.Sources)
	assert.Zero(t, client.count("refine"), "direct failures must not refine")
	assert.Zero(t, client.count("synthesize"))
}

// Scenario: every validation fails, refinement runs once, its topic also fails,
// and the turn ends with a knowledge-only answer and no citations.
func TestRunRefinementExhaustionFallsBackToKnowledgeOnly(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("plan", weatherPlan)
	client.reply("validate", "<fail>off-topic</fail>")
	client.on("refine", func(messages []llm.Message) (string, error) {
		assert.Contains(t, messages[1].Content, "off-topic")
		return "<think>try another angle</think><search_request><query>Paris meteo forecast</query></search_request>", nil
	})

	var synthPrompt string
	client.on("synthesize", func(messages []llm.Message) (string, error) {
		synthPrompt = messages[len(messages)-1].Content
		return "<think>no sources</think>From what I know, late August in Paris is mild.", nil
	})

	provider := &fakeProvider{results: []search.Result{
		{Title: "Paris forecast", URL: "https://weather.com/paris", Snippet: "tomorrow"},
	}}
	extractor := &fakeExtractor{}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, extractor))
	result, err := orch.Run(context.Background(), "What is the weather in Paris tomorrow?")
	require.NoError(t, err)

	assert.Equal(t, 1, client.count("refine"), "refinement runs exactly once")
	assert.Empty(t, result.Sources, "failed validations must never be cited")
	assert.NotContains(t, result.Answer, "<sources>")
	assert.Contains(t, synthPrompt, "No usable web sources")
	assert.Zero(t, client.count("summarize"), "no sources used means no summarizer call")
}

// Scenario: the first synthesis reply is exactly an additional-search directive.
// One extra retrieval round runs; a second directive is never honored.
func TestRunAdditionalSearchHappensExactlyOnce(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("plan", weatherPlan)
	client.reply("validate", "<pass>")
	client.reply("abstract", "<structured_data>data</structured_data>")
	client.reply("summarize", "summary")

	synthCalls := 0
	client.on("synthesize", func([]llm.Message) (string, error) {
		synthCalls++
		if synthCalls == 1 {
			return "<additional_search><query>Paris humidity tomorrow</query></additional_search>", nil
		}
		// Asking again: the round budget is spent, this reply is final.
		return "<additional_search><query>Paris wind tomorrow</query></additional_search>", nil
	})

	provider := &fakeProvider{results: []search.Result{
		{Title: "Paris forecast", URL: "https://weather.com/paris", Snippet: "tomorrow"},
	}}
	extractor := &fakeExtractor{}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, extractor))
	_, err := orch.Run(context.Background(), "What is the weather in Paris tomorrow?")
	require.NoError(t, err)

	assert.Equal(t, 2, synthCalls, "one synthesis plus one re-synthesis")
	assert.Equal(t, 2, provider.callCount(), "initial round plus exactly one additional round")
}

// Planner transport failure degrades to the raw query, never aborts the turn.
func TestRunPlannerFailureFallsBackToRawQuery(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.on("plan", func([]llm.Message) (string, error) {
		return "", &llm.ModelError{Model: "qwen3:8b", Err: errors.New("connection refused")}
	})
	client.reply("validate", "<pass>")
	client.reply("abstract", "<structured_data>data</structured_data>")
	client.reply("synthesize", "<think>ok</think>Answer.")
	client.reply("summarize", "summary")

	provider := &fakeProvider{results: []search.Result{
		{Title: "hit", URL: "https://example.com/hit", Snippet: ""},
	}}
	extractor := &fakeExtractor{}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, extractor))
	result, err := orch.Run(context.Background(), "some question")
	require.NoError(t, err)

	assert.Equal(t, search.CategoryGeneral, result.Category)
	require.NotEmpty(t, provider.queries)
	assert.Equal(t, "some question", provider.queries[0])
}

// Time-sensitive categories get the current year appended to year-less queries.
func TestRunYearAugmentationForNews(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("plan", "<topic>chip export rules</topic><search_type>news</search_type>")
	client.reply("validate", "<pass>")
	client.reply("abstract", "<structured_data>data</structured_data>")
	client.reply("synthesize", "<think>ok</think>Answer.")
	client.reply("summarize", "summary")

	provider := &fakeProvider{results: []search.Result{
		{Title: "hit", URL: "https://reuters.com/x", Snippet: ""},
	}}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, &fakeExtractor{}))
	_, err := orch.Run(context.Background(), "what changed in chip export rules?")
	require.NoError(t, err)

	require.NotEmpty(t, provider.queries)
	assert.Equal(t, "chip export rules 2026", provider.queries[0])
}

// A synthesis reply without a reasoning block is corrected, then wrapped.
func TestRunSynthesisContractPlaceholderFallback(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("plan", weatherPlan)
	client.reply("validate", "<pass>")
	client.reply("abstract", "<structured_data>data</structured_data>")
	client.reply("synthesize", "Bare answer with no reasoning block.")
	client.reply("summarize", "summary")

	provider := &fakeProvider{results: []search.Result{
		{Title: "Paris forecast", URL: "https://weather.com/paris", Snippet: ""},
	}}

	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, &fakeExtractor{}))
	result, err := orch.Run(context.Background(), "What is the weather in Paris tomorrow?")
	require.NoError(t, err)

	// Three total attempts, then the placeholder wrap keeps the raw reply.
	assert.Equal(t, 3, client.count("synthesize"))
	assert.Contains(t, result.Answer, "Bare answer with no reasoning block.")
	assert.NotContains(t, result.Answer, "<think>", "placeholder reasoning is stripped for display")
}

// Memory receives both sides of the turn.
func TestRunWritesMemory(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	client.reply("plan", weatherPlan)
	client.reply("validate", "<pass>")
	client.reply("abstract", "<structured_data>data</structured_data>")
	client.reply("synthesize", "<think>ok</think>Answer.")
	client.reply("summarize", "Condensed recall.")

	provider := &fakeProvider{results: []search.Result{
		{Title: "Paris forecast", URL: "https://weather.com/paris", Snippet: ""},
	}}

	deps := testDeps(t, client, provider, &fakeExtractor{})
	orch := NewOrchestrator(testCfg(), deps)
	result, err := orch.Run(context.Background(), "What is the weather in Paris tomorrow?")
	require.NoError(t, err)

	assert.Equal(t, "Condensed recall.", result.RecallSummary)
	assert.Equal(t, 2, deps.Memory.Len(), "user turn and assistant turn")
}

// ---- concurrency and timeouts ---------------------------------------------

func TestRunSingleFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})

	client := newScriptedClient()
	client.on("plan", func([]llm.Message) (string, error) {
		close(started)
		<-release
		return weatherPlan, nil
	})
	client.reply("validate", "<fail>irrelevant</fail>")
	client.reply("refine", "no proposals")
	client.reply("synthesize", "<think>ok</think>Answer.")

	provider := &fakeProvider{}
	orch := NewOrchestrator(testCfg(), testDeps(t, client, provider, &fakeExtractor{}))

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(context.Background(), "first question")
		done <- err
	}()

	<-started
	_, err := orch.Run(context.Background(), "second question")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestRunWatchdogTimeout(t *testing.T) {
	t.Parallel()
	client := newScriptedClient()
	blocking := func(messages []llm.Message) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "", errors.New("gave up")
	}
	for agent := range agentPhrases {
		client.on(agent, blocking)
	}

	cfg := testCfg()
	cfg.Timeouts.Watchdog = 50 * time.Millisecond

	orch := NewOrchestrator(cfg, testDeps(t, client, &fakeProvider{}, &fakeExtractor{}))
	_, err := orch.Run(context.Background(), "slow question")
	assert.ErrorIs(t, err, ErrWatchdogTimeout)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"chorus/internal/config"
	"chorus/internal/extract"
	"chorus/internal/history"
	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/markup"
	"chorus/internal/memory"
	"chorus/internal/prompts"
	"chorus/internal/search"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Extractor is the content extraction dependency.
type Extractor interface {
	Extract(ctx context.Context, url string) (*extract.Source, error)
}

// SourceRef is the {url, title, date} projection retained after a source's
// content passed validation and fed synthesis.
type SourceRef struct {
	URL   string
	Title string
	Date  string
}

// TurnResult is the finished product of one turn.
type TurnResult struct {
	RunID         string
	Answer        string // display text, citations attached
	RecallSummary string // condensed form written to memory
	Sources       []SourceRef
	Category      search.Category
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Client    llm.Client
	Provider  search.Provider
	Extractor Extractor
	Memory    *memory.Store
	History   *history.Store // optional write-through persistence
	Library   *prompts.Library
	Sink      Sink
	Now       func() time.Time
}

// Orchestrator sequences one turn: plan, search, rank, extract, validate,
// refine on total failure, structure, synthesize with at most one additional
// retrieval round, attach citations, summarize to memory.
type Orchestrator struct {
	cfg  config.Config
	deps Deps

	planner     *IntentPlanner
	gate        *ValidationGate
	refiner     *RefinementEngine
	abstractor  *Abstractor
	synthesizer *SynthesisEngine

	mu sync.Mutex // single-flight per conversation
}

// NewOrchestrator wires the pipeline stages from one config.
func NewOrchestrator(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Sink == nil {
		deps.Sink = NopSink
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		planner:     NewIntentPlanner(deps.Client, cfg.Models.Intent, deps.Library, deps.Now),
		gate:        NewValidationGate(deps.Client, cfg.Models.Validator, deps.Library, cfg.Timeouts.Validation),
		refiner:     NewRefinementEngine(deps.Client, cfg.Models.Refiner, deps.Library),
		abstractor:  NewAbstractor(deps.Client, cfg.Models.Abstraction, deps.Library),
		synthesizer: NewSynthesisEngine(deps.Client, cfg.Models.Synthesis, deps.Library, cfg.Timeouts.SynthesisAttempts),
	}
}

// Run executes one turn. Concurrent calls return ErrTurnInFlight. The run is
// bounded by the watchdog timeout; expiry returns ErrWatchdogTimeout. On
// success the memory write has already happened.
func (o *Orchestrator) Run(ctx context.Context, query string) (*TurnResult, error) {
	if !o.mu.TryLock() {
		return nil, ErrTurnInFlight
	}
	defer o.mu.Unlock()

	runID := uuid.NewString()
	timer := logging.StartTimer(logging.CategoryPipeline, "Run "+runID)
	defer timer.StopWithInfo()

	ctx, cancel := context.WithTimeoutCause(ctx, o.cfg.Timeouts.Watchdog, ErrWatchdogTimeout)
	defer cancel()

	result, err := o.run(ctx, runID, query)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrWatchdogTimeout) {
			logging.PipelineError("Run %s hit the watchdog timeout", runID)
			o.deps.Sink.Event("Pipeline timed out", SeverityError)
			return nil, ErrWatchdogTimeout
		}
		return nil, err
	}
	return result, nil
}

// run is the state machine body. Stage failures degrade the pipeline, never
// the turn; the only hard failures are the final synthesis call and the
// watchdog.
func (o *Orchestrator) run(ctx context.Context, runID, query string) (*TurnResult, error) {
	run := &pipelineRun{id: runID, query: query}

	o.deps.Sink.Event("Recalling conversation context", SeverityInfo)
	run.history = o.deps.Memory.Retrieve(ctx, query, o.cfg.Memory.TopK, o.cfg.Memory.LastN)

	o.deps.Sink.Event("Planning searches", SeverityInfo)
	topics, category := o.planner.Plan(ctx, query, run.history)
	run.category = category
	logging.Pipeline("Run %s: %d topic(s), category=%s", runID, len(topics), category)

	if category == search.CategoryDirect {
		return o.runDirect(ctx, run, topics[0])
	}

	// Retrieval across all planned topics.
	var passed []*extract.Source
	var reasons []string
	for _, topic := range topics {
		topicPassed, topicReasons := o.retrieveTopic(ctx, topic, category)
		passed = append(passed, topicPassed...)
		reasons = append(reasons, topicReasons...)
	}

	// Total failure: refine once, then try each proposed topic until one
	// yields a pass. Exhaustion falls back to a knowledge-only answer.
	if len(passed) == 0 && len(topics) > 0 {
		o.deps.Sink.Event("No usable sources, refining searches", SeverityWarn)
		refined := o.refiner.Refine(ctx, query, topics[0], reasons)
		for _, topic := range refined {
			topicPassed, topicReasons := o.retrieveTopic(ctx, topic, category)
			reasons = append(reasons, topicReasons...)
			if len(topicPassed) > 0 {
				passed = topicPassed
				break
			}
		}
		if len(passed) == 0 && len(refined) > 0 {
			exhausted := &RefinementExhausted{Rounds: len(refined)}
			logging.PipelineError("Run %s: %v", runID, exhausted)
			o.deps.Sink.Event("Refinement exhausted, answering from prior knowledge", SeverityError)
		}
	}

	run.addSources(passed)

	digests := ""
	if len(passed) > 0 {
		o.deps.Sink.Event(fmt.Sprintf("Structuring %d source(s)", len(passed)), SeverityInfo)
		digests = o.abstractor.Structure(ctx, query, passed)
	}

	o.deps.Sink.Event("Synthesizing answer", SeverityInfo)
	reply, err := o.synthesizer.Synthesize(ctx, query, digests, run.history)
	if err != nil {
		return nil, err
	}

	// At most one additional retrieval round per turn, no matter what the
	// second reply asks for.
	if followUp := markup.ExtractAdditionalSearch(reply); followUp != "" {
		o.deps.Sink.Event(fmt.Sprintf("Model requested one more search: %s", followUp), SeverityInfo)
		logging.Pipeline("Run %s: additional search round for %q", runID, followUp)

		morePassed, _ := o.retrieveTopic(ctx, Topic{Query: followUp}, category)
		run.addSources(morePassed)
		if len(morePassed) > 0 {
			moreDigests := o.abstractor.Structure(ctx, query, morePassed)
			if digests != "" {
				digests += "\n\n" + moreDigests
			} else {
				digests = moreDigests
			}
		}

		reply, err = o.synthesizer.Synthesize(ctx, query, digests, run.history)
		if err != nil {
			return nil, err
		}
		if again := markup.ExtractAdditionalSearch(reply); again != "" {
			logging.PipelineWarn("Run %s: ignoring further search request %q, round budget spent", runID, again)
		}
	}

	return o.finish(ctx, run, reply)
}

// runDirect handles a query naming its own URL: one extraction, no ranking,
// no validation, no refinement. An extraction failure becomes a user-facing
// explanation since there is nothing to refine.
func (o *Orchestrator) runDirect(ctx context.Context, run *pipelineRun, topic Topic) (*TurnResult, error) {
	o.deps.Sink.Event("Fetching requested page", SeverityInfo)
	src, err := o.deps.Extractor.Extract(ctx, topic.Query)
	if err != nil {
		logging.PipelineWarn("Run %s: direct fetch failed: %v", run.id, err)
		answer := fmt.Sprintf("I couldn't read %s: %v", topic.Query, err)
		return o.finishWithoutSynthesis(ctx, run, answer)
	}

	run.addSources([]*extract.Source{src})
	digests := o.abstractor.Structure(ctx, run.query, []*extract.Source{src})

	o.deps.Sink.Event("Synthesizing answer", SeverityInfo)
	reply, err := o.synthesizer.Synthesize(ctx, run.query, digests, run.history)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, run, reply)
}

// finish attaches citations, produces the recall summary and writes memory.
func (o *Orchestrator) finish(ctx context.Context, run *pipelineRun, reply string) (*TurnResult, error) {
	answer := markup.StripThinking(reply)
	answer = markup.AttachSources(answer, run.citationSources())

	recall := answer
	if len(run.used) > 0 {
		o.deps.Sink.Event("Condensing answer for memory", SeverityInfo)
		recall = o.synthesizer.SummarizeForMemory(ctx, o.cfg.Models.MemorySummary, run.query, answer)
	}

	o.writeMemory(ctx, run, answer, recall)

	o.deps.Sink.Event("Turn finished", SeverityInfo)
	return &TurnResult{
		RunID:         run.id,
		Answer:        answer,
		RecallSummary: recall,
		Sources:       run.used,
		Category:      run.category,
	}, nil
}

// finishWithoutSynthesis delivers a pipeline-authored answer (direct fetch
// failure path). The memory write still happens.
func (o *Orchestrator) finishWithoutSynthesis(ctx context.Context, run *pipelineRun, answer string) (*TurnResult, error) {
	o.writeMemory(ctx, run, answer, answer)
	o.deps.Sink.Event("Turn finished", SeverityInfo)
	return &TurnResult{
		RunID:    run.id,
		Answer:   answer,
		Category: run.category,
	}, nil
}

// writeMemory records both sides of the turn in memory and, when a history
// store is attached, persists them write-through. Persistence failures are
// logged and never fail the turn.
func (o *Orchestrator) writeMemory(ctx context.Context, run *pipelineRun, answer, recall string) {
	o.deps.Memory.Add(ctx, memory.RoleUser, run.query, run.query)
	o.deps.Memory.Add(ctx, memory.RoleAssistant, recall, answer)

	if o.deps.History == nil {
		return
	}
	if err := o.deps.History.Append(ctx, string(memory.RoleUser), run.query, run.query); err != nil {
		logging.PipelineWarn("Run %s: failed to persist user turn: %v", run.id, err)
	}
	if err := o.deps.History.Append(ctx, string(memory.RoleAssistant), answer, recall); err != nil {
		logging.PipelineWarn("Run %s: failed to persist assistant turn: %v", run.id, err)
	}
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// retrieveTopic runs search, ranking, bounded concurrent extraction and
// validation for one topic. Returned reasons cover every rejected or
// unextractable candidate.
func (o *Orchestrator) retrieveTopic(ctx context.Context, topic Topic, category search.Category) ([]*extract.Source, []string) {
	query := topic.Query

	// Time-sensitive categories get the current year appended when the query
	// names none.
	switch category {
	case search.CategoryNews, search.CategoryTech, search.CategoryFinancial:
		if !yearPattern.MatchString(query) {
			query = fmt.Sprintf("%s %d", query, o.deps.Now().Year())
		}
	}

	o.deps.Sink.Event(fmt.Sprintf("Searching: %s", query), SeverityInfo)

	results := o.searchWithHint(ctx, query, topic.Domain)
	if len(results) == 0 {
		serr := &SearchError{Query: query}
		logging.Get(logging.CategorySearch).Warn("%v", serr)
		o.deps.Sink.Event(fmt.Sprintf("No results for: %s", query), SeverityWarn)
		return nil, []string{serr.Error()}
	}

	ranked := search.Rank(results, topic.Query, category, o.deps.Now())
	sources := o.extractRanked(ctx, ranked)
	if len(sources) == 0 {
		reason := fmt.Sprintf("no extractable content for %q", query)
		o.deps.Sink.Event(fmt.Sprintf("Nothing extractable for: %s", query), SeverityWarn)
		return nil, []string{reason}
	}

	items := make([]ValidationItem, 0, len(sources))
	for _, src := range sources {
		items = append(items, ValidationItem{Source: src, TopicQuery: topic.Query})
	}
	o.deps.Sink.Event(fmt.Sprintf("Validating %d source(s)", len(items)), SeverityInfo)
	passed, reasons := o.gate.ValidateBatch(ctx, items)

	logging.Pipeline("Topic %q: search quality %s", topic.Query, gradeRetrieval(passed))
	return passed, reasons
}

// searchWithHint searches with a site: restriction when a domain hint is
// present, broadening to the unrestricted query when the hint yields nothing.
func (o *Orchestrator) searchWithHint(ctx context.Context, query, domain string) []search.Result {
	if domain != "" {
		hinted := fmt.Sprintf("%s site:%s", query, domain)
		results, err := o.deps.Provider.Search(ctx, hinted, o.cfg.Search.MaxResultsPerTopic)
		if err == nil && len(results) > 0 {
			return results
		}
		logging.SearchDebug("Domain hint %q yielded nothing, broadening", domain)
	}

	results, err := o.deps.Provider.Search(ctx, query, o.cfg.Search.MaxResultsPerTopic)
	if err != nil {
		logging.Get(logging.CategorySearch).Warn("Search failed for %q: %v", query, err)
		return nil
	}
	return results
}

// extractRanked walks the ranked candidates in order, fetching in bounded
// concurrent batches, until enough sources succeed or candidates run out.
// Extraction failures are recovered by moving to the next candidate.
func (o *Orchestrator) extractRanked(ctx context.Context, ranked []search.RankedCandidate) []*extract.Source {
	needed := o.cfg.Search.MaxSourcesPerTopic
	concurrency := o.cfg.Search.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var sources []*extract.Source
	for start := 0; len(sources) < needed && start < len(ranked); start += concurrency {
		end := min(start+concurrency, len(ranked))
		batch := ranked[start:end]
		extracted := make([]*extract.Source, len(batch))

		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, candidate := range batch {
			g.Go(func() error {
				src, err := o.deps.Extractor.Extract(ctx, candidate.URL)
				if err != nil {
					logging.ExtractDebug("Skipping candidate %s: %v", candidate.URL, err)
					return nil
				}
				extracted[i] = src
				return nil
			})
		}
		g.Wait()

		for _, src := range extracted {
			if src != nil && len(sources) < needed {
				sources = append(sources, src)
			}
		}
	}
	return sources
}

// gradeRetrieval is a log-only quality signal for one topic's retrieval.
func gradeRetrieval(passed []*extract.Source) string {
	total := 0
	for _, src := range passed {
		total += src.ContentLength
	}
	switch {
	case len(passed) == 0:
		return "poor"
	case len(passed) >= 2 && total > 8000:
		return "excellent"
	case total > 4000:
		return "good"
	default:
		return "fair"
	}
}

// pipelineRun is the transient per-turn aggregate. Owned by the orchestrator
// goroutine for one turn; never shared.
type pipelineRun struct {
	id       string
	query    string
	category search.Category
	history  []memory.Recalled
	used     []SourceRef // append-only, validated sources that fed synthesis
	seen     map[string]bool
}

// addSources records validated sources into UsedSources, deduplicating by URL.
func (r *pipelineRun) addSources(sources []*extract.Source) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	for _, src := range sources {
		if r.seen[src.URL] {
			continue
		}
		r.seen[src.URL] = true
		r.used = append(r.used, SourceRef{URL: src.URL, Title: src.Title, Date: src.PublishedDate})
	}
}

func (r *pipelineRun) citationSources() []markup.Source {
	refs := make([]markup.Source, 0, len(r.used))
	for _, ref := range r.used {
		refs = append(refs, markup.Source{URL: ref.URL, Title: ref.Title, Date: ref.Date})
	}
	return refs
}

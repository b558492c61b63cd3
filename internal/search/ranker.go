package search

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"chorus/internal/logging"
)

// Category is the coarse intent classification driving ranking policy.
type Category string

const (
	CategoryNews       Category = "news"
	CategoryFinancial  Category = "financial"
	CategoryTech       Category = "tech"
	CategoryWeather    Category = "weather"
	CategoryHistorical Category = "historical"
	CategoryGeneral    Category = "general"
	CategoryDirect     Category = "direct"
)

// ParseCategory maps a raw classification string onto a known category,
// defaulting to general.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryNews:
		return CategoryNews
	case CategoryFinancial:
		return CategoryFinancial
	case CategoryTech:
		return CategoryTech
	case CategoryWeather:
		return CategoryWeather
	case CategoryHistorical:
		return CategoryHistorical
	case CategoryDirect:
		return CategoryDirect
	default:
		return CategoryGeneral
	}
}

// RankedCandidate is a URL with its heuristic quality score. The score is not
// a probability; only the ordering matters.
type RankedCandidate struct {
	URL   string
	Score float64
}

// Category-specific domain allow-lists. Matching is substring on the host, so
// ".edu" style entries work.
var (
	financialDomains = []string{"finance.yahoo.com", "marketwatch.com", "bloomberg.com", "reuters.com", "cnbc.com", "wsj.com", "investing.com", "morningstar.com"}
	newsDomains      = []string{"reuters.com", "apnews.com", "bbc.com", "cnn.com", "npr.org", "theguardian.com", "nytimes.com", "wsj.com"}
	techDomains      = []string{"techcrunch.com", "arstechnica.com", "theverge.com", "wired.com", "engadget.com", "zdnet.com", "cnet.com"}
	weatherDomains   = []string{"weather.com", "accuweather.com", "weather.gov", "wunderground.com"}
	referenceDomains = []string{"wikipedia.org", "britannica.com", "history.com", "scholar.google.com", "jstor.org", "nationalgeographic.com", "si.edu", ".edu", "plato.stanford.edu"}

	lowSignalDomains = []string{"pinterest.com", "quora.com", "answers.com", "wikihow.com", "ehow.com", "forum", "blog"}

	recencyPenaltyWords = []string{"today", "latest", "breaking news", "live"}
)

// Rank scores and orders raw search hits for the query under the given intent
// category. Candidates without a parseable URL are dropped. The sort is stable:
// equal scores keep engine order.
func Rank(results []Result, query string, category Category, now time.Time) []RankedCandidate {
	timer := logging.StartTimer(logging.CategoryRanker, "Rank")
	defer timer.Stop()

	queryWords := strings.Fields(strings.ToLower(query))
	currentYear := fmt.Sprintf("%d", now.Year())
	recencyBonusWords := []string{"today", "latest", "current", currentYear}

	ranked := make([]RankedCandidate, 0, len(results))
	for _, result := range results {
		parsed, err := url.Parse(result.URL)
		if err != nil || parsed.Host == "" {
			logging.RankerDebug("Dropping candidate with unparseable URL: %q", result.URL)
			continue
		}
		domain := strings.ToLower(parsed.Host)
		title := strings.ToLower(result.Title)
		snippet := strings.ToLower(result.Snippet)
		text := title + " " + snippet

		score := 1.0

		switch category {
		case CategoryHistorical:
			// Inverted policy: canonical references up, recency signals down.
			if domainMatchesAny(domain, referenceDomains) {
				score += 15.0
			}
			if containsAny(text, recencyPenaltyWords) {
				score -= 5.0
			}
		case CategoryFinancial:
			if domainMatchesAny(domain, financialDomains) {
				score += 10.0
			}
			if containsAny(text, recencyBonusWords) {
				score += 3.0
			}
		case CategoryNews:
			if domainMatchesAny(domain, newsDomains) {
				score += 10.0
			}
			if containsAny(text, recencyBonusWords) {
				score += 3.0
			}
		case CategoryTech:
			if domainMatchesAny(domain, techDomains) {
				score += 10.0
			}
			if containsAny(text, recencyBonusWords) {
				score += 3.0
			}
		case CategoryWeather:
			if domainMatchesAny(domain, weatherDomains) {
				score += 10.0
			}
			if containsAny(text, recencyBonusWords) {
				score += 3.0
			}
		}
		// general gets no domain bonus, only the shared rules below.

		for _, word := range queryWords {
			if strings.Contains(title, word) {
				score += 2.0
			}
		}

		if domainMatchesAny(domain, lowSignalDomains) {
			score -= 5.0
		}
		if strings.HasPrefix(result.URL, "https://") {
			score += 0.5
		}

		ranked = append(ranked, RankedCandidate{URL: result.URL, Score: score})
	}

	// Stable: ties preserve engine order by design.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	logging.RankerDebug("Ranked %d/%d candidates for category=%s", len(ranked), len(results), category)
	return ranked
}

func domainMatchesAny(domain string, list []string) bool {
	for _, d := range list {
		if strings.Contains(domain, d) {
			return true
		}
	}
	return false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

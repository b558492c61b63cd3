// Package markup defines the tagged wire format threaded through otherwise
// free-text model output: topics, search type, reasoning blocks, search
// requests, the single additional-search directive, structured data, validation
// verdicts and the final sources block. Parsing is permissive (case-insensitive,
// whitespace tolerant); production is strict.
package markup

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	topicPattern            = regexp.MustCompile(`(?is)<topic>(.*?)</topic>`)
	searchTypePattern       = regexp.MustCompile(`(?is)<search_type>(.*?)</search_type>`)
	thinkPattern            = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkCapturePattern     = regexp.MustCompile(`(?is)<think>(.*?)</think>`)
	searchRequestPattern    = regexp.MustCompile(`(?is)<search_request>\s*<query>(.*?)</query>(?:\s*<domain>(.*?)</domain>)?\s*</search_request>`)
	additionalSearchPattern = regexp.MustCompile(`(?is)<additional_search>\s*<query>(.*?)</query>\s*</additional_search>`)
	structuredDataPattern   = regexp.MustCompile(`(?is)<structured_data>(.*?)</structured_data>`)
	sourcesPattern          = regexp.MustCompile(`(?is)<sources>.*?</sources>`)
	passPattern             = regexp.MustCompile(`(?i)<pass>`)
	failReasonPattern       = regexp.MustCompile(`(?is)<fail>(.*?)</fail>`)
	failPattern             = regexp.MustCompile(`(?i)<fail>`)
	resultURLPattern        = regexp.MustCompile(`<result url="([^"]+)"`)
	resultTitlePattern      = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
)

// Source is the {url, date, title} triple carried in a sources block.
type Source struct {
	URL   string
	Title string
	Date  string
}

// SearchRequest is a parsed search directive with an optional domain hint.
type SearchRequest struct {
	Query  string
	Domain string
}

// ExtractTopics returns all <topic> payloads, trimmed, empty ones dropped.
func ExtractTopics(text string) []string {
	matches := topicPattern.FindAllStringSubmatch(text, -1)
	topics := make([]string, 0, len(matches))
	for _, m := range matches {
		topic := strings.TrimSpace(m[1])
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}

// ExtractSearchType returns the first <search_type> payload, lowercased.
func ExtractSearchType(text string) (string, bool) {
	m := searchTypePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(m[1])), true
}

// ExtractSearchRequests parses <search_request> blocks, dropping queries under
// 3 characters and case-insensitive duplicates.
func ExtractSearchRequests(text string) []SearchRequest {
	matches := searchRequestPattern.FindAllStringSubmatch(text, -1)
	var requests []SearchRequest
	for _, m := range matches {
		query := strings.TrimSpace(m[1])
		domain := strings.TrimSpace(m[2])
		if len(query) < 3 {
			continue
		}
		dup := false
		for _, existing := range requests {
			if strings.EqualFold(existing.Query, query) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		requests = append(requests, SearchRequest{Query: query, Domain: domain})
	}
	return requests
}

// ExtractAdditionalSearch returns the follow-up query only when the entire
// trimmed text is exactly one <additional_search> directive. A reply carrying
// any other text is a final answer, not a request; this guards against the
// model partially complying.
func ExtractAdditionalSearch(text string) string {
	trimmed := strings.TrimSpace(text)
	m := additionalSearchPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return ""
	}
	query := strings.TrimSpace(m[1])
	if trimmed != strings.TrimSpace(additionalSearchPattern.FindString(trimmed)) {
		return ""
	}
	if len(query) <= 3 {
		return ""
	}
	return query
}

// HasThinkBlock reports whether the text contains a complete reasoning block.
func HasThinkBlock(text string) bool {
	return thinkCapturePattern.MatchString(text)
}

// WrapThink produces a reasoning block around the given text.
func WrapThink(reasoning string) string {
	return fmt.Sprintf("<think>%s</think>", reasoning)
}

// StripThinking removes all reasoning blocks.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
}

// ExtractThinking returns the concatenated reasoning block contents.
func ExtractThinking(text string) string {
	matches := thinkCapturePattern.FindAllStringSubmatch(text, -1)
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// StripSearchRequests removes all search request directives.
func StripSearchRequests(text string) string {
	return strings.TrimSpace(searchRequestPattern.ReplaceAllString(text, ""))
}

// StripSources removes any sources block.
func StripSources(text string) string {
	return strings.TrimSpace(sourcesPattern.ReplaceAllString(text, ""))
}

// ExtractStructuredData returns the payload of the first structured data block.
func ExtractStructuredData(text string) (string, bool) {
	m := structuredDataPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Verdict is the parsed outcome of a validation reply.
type Verdict struct {
	Pass   bool
	Reason string // populated for failures
}

// ParseVerdict interprets a validator reply. A reply with neither marker is
// ambiguous and fails closed.
func ParseVerdict(text string) Verdict {
	if passPattern.MatchString(text) {
		return Verdict{Pass: true}
	}
	if failPattern.MatchString(text) {
		reason := "Reason not specified."
		if m := failReasonPattern.FindStringSubmatch(text); m != nil {
			if r := strings.TrimSpace(m[1]); r != "" {
				reason = r
			}
		}
		return Verdict{Pass: false, Reason: reason}
	}
	return Verdict{Pass: false, Reason: "Ambiguous (no <pass> or <fail> tag found)"}
}

// FormatResult renders an extracted source in the wire format consumed by the
// validator and abstraction agents.
func FormatResult(url, date, title, content string) string {
	return fmt.Sprintf(`<result url="%s" date="%s"><title>%s</title><content>%s</content></result>`, url, date, title, content)
}

// ResultURL returns the url attribute of a formatted result block.
func ResultURL(content string) (string, bool) {
	m := resultURLPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ResultTitle returns the title of a formatted result block, or "Unknown Title".
func ResultTitle(content string) string {
	m := resultTitlePattern.FindStringSubmatch(content)
	if m == nil {
		return "Unknown Title"
	}
	title := strings.TrimSpace(m[1])
	if title == "" {
		return "Unknown Title"
	}
	return title
}

// SourcesBlock renders the deterministic citation block. Production is strict:
// one <source> line per entry, in order.
func SourcesBlock(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		lines = append(lines, fmt.Sprintf(`<source url="%s" date="%s">%s</source>`, s.URL, s.Date, s.Title))
	}
	return "<sources>\n" + strings.Join(lines, "\n") + "\n</sources>"
}

// AttachSources strips any sources block the model may have produced and
// appends one rebuilt strictly from the given list. Idempotent: attaching the
// same sources twice yields the same text. With no sources the text is returned
// with hallucinated blocks removed.
func AttachSources(text string, sources []Source) string {
	clean := StripSources(text)
	if len(sources) == 0 {
		return clean
	}
	return clean + "\n\n" + SourcesBlock(sources)
}

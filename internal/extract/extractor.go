// Package extract fetches URLs and produces cleaned, length-bounded text
// bodies with metadata. Extraction is two-stage: a precision-favoring
// readability pass first, then a generic HTML-to-text reducer when the first
// stage comes back thin.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chorus/internal/config"
	"chorus/internal/logging"

	readability "github.com/go-shiori/go-readability"
)

// TruncationMarker is appended when a body is cut at the configured cap.
const TruncationMarker = "..."

// FailureKind classifies extraction failures for the orchestrator's
// recovery policy.
type FailureKind int

const (
	// FailureDownload means the URL could not be fetched at all.
	FailureDownload FailureKind = iota
	// FailureInsufficientContent means the page yielded too little text.
	FailureInsufficientContent
)

// Error is a structured extraction failure.
type Error struct {
	URL  string
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case FailureDownload:
		return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("insufficient content from %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Source is an extracted page. Body is capped; Title and PublishedDate carry
// placeholder values rather than failing when metadata is absent.
type Source struct {
	URL           string
	Title         string
	PublishedDate string
	Body          string
	ContentLength int
}

// Extractor fetches and extracts web pages.
type Extractor struct {
	client *http.Client
	cfg    config.ExtractConfig
}

// NewExtractor creates an extractor with the given thresholds.
func NewExtractor(cfg config.ExtractConfig) *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: cfg.FetchTimeout},
		cfg:    cfg,
	}
}

// Extract fetches the URL and returns its cleaned text body with metadata.
// Missing title or publish date never fails extraction on their own.
func (x *Extractor) Extract(ctx context.Context, pageURL string) (*Source, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "Extract")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, x.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, &Error{URL: pageURL, Kind: FailureDownload, Err: err}
	}
	req.Header.Set("User-Agent", x.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := x.client.Do(req)
	if err != nil {
		logging.Get(logging.CategoryExtract).Warn("Download failed for %s: %v", pageURL, err)
		return nil, &Error{URL: pageURL, Kind: FailureDownload, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		logging.Get(logging.CategoryExtract).Warn("Download failed for %s: %v", pageURL, err)
		return nil, &Error{URL: pageURL, Kind: FailureDownload, Err: err}
	}

	rawHTML, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20)) // 2MB limit
	if err != nil {
		return nil, &Error{URL: pageURL, Kind: FailureDownload, Err: err}
	}

	title := "Unknown Title"
	date := "N/A"
	var body string

	// Stage 1: precision-favoring readability extraction.
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(rawHTML)), parsedURL)
	if err == nil {
		if t := strings.TrimSpace(article.Title); t != "" {
			title = t
		}
		if article.PublishedTime != nil {
			date = article.PublishedTime.Format(time.DateOnly)
		}
		body = strings.TrimSpace(article.TextContent)
	} else {
		logging.ExtractDebug("Readability pass failed for %s: %v", pageURL, err)
	}

	// Stage 2: generic reducer when the readability pass came back thin.
	if len(body) <= x.cfg.MinUsableChars {
		reduced := reduceHTML(string(rawHTML))
		if len(reduced) > x.cfg.MinUsableChars {
			logging.ExtractDebug("Fallback reducer used for %s (%d chars)", pageURL, len(reduced))
			body = reduced
		} else {
			return nil, &Error{
				URL:  pageURL,
				Kind: FailureInsufficientContent,
				Err:  fmt.Errorf("extracted %d chars, need > %d", max(len(body), len(reduced)), x.cfg.MinUsableChars),
			}
		}
	}

	if len(body) < x.cfg.MinQualityChars {
		return nil, &Error{
			URL:  pageURL,
			Kind: FailureInsufficientContent,
			Err:  fmt.Errorf("content below quality threshold (%d < %d chars)", len(body), x.cfg.MinQualityChars),
		}
	}

	contentLength := len(body)
	if contentLength > x.cfg.MaxBodyChars {
		body = body[:x.cfg.MaxBodyChars] + TruncationMarker
		contentLength = x.cfg.MaxBodyChars
	}

	logging.Extract("Extracted %s: title=%q, date=%s, %d chars", pageURL, title, date, contentLength)

	return &Source{
		URL:           pageURL,
		Title:         title,
		PublishedDate: date,
		Body:          body,
		ContentLength: contentLength,
	}, nil
}

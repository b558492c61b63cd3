// Package search provides the web search provider and the intent-driven
// candidate ranker.
package search

import "context"

// Result represents a single raw search engine hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider performs a web search.
type Provider interface {
	// Search returns up to maxResults hits for the query, in engine order.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Package websearch defines the external web-search collaborator and ships a
// scraping client for the DuckDuckGo HTML endpoint.
package websearch

import "context"

// Result is one web hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
	Rank    int
	// Authority carries optional source-quality metadata when the backend
	// provides it, e.g. a domain reputation label.
	Authority string
}

// Searcher performs a web search. Implementations return at most count
// results; failures at the call site are recorded as activity, never raised.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

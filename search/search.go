// Package search defines the contract for the hybrid retrieval service the
// dispatcher queries. Backends live under contrib/search.
package search

import "context"

// Options tunes one search request.
type Options struct {
	Vector       []float32 // query embedding for the vector leg, optional
	Filter       string    // backend filter expression, e.g. an exact-id filter
	Top          int
	SemanticRank bool // ask the backend for semantic reranking
	Index        string
	SummaryOnly  bool // return compact summaries instead of full content
}

// Result is one retrieved unit of evidence.
type Result struct {
	ID          string
	Title       string
	Content     string
	URL         string
	PageNumber  int
	Score       float32
	RerankScore float32
	Highlights  []string
	SourceType  string
	Metadata    map[string]any
}

// Results is a search response.
type Results struct {
	Results []Result
	Count   int
	Facets  map[string][]string
}

// Service performs hybrid vector+keyword retrieval with optional semantic
// reranking.
type Service interface {
	Search(ctx context.Context, query string, opts Options) (*Results, error)
}

// KnowledgeAgent is a delegated retrieval collaborator: it owns query routing
// and reranking internally and hands back finished evidence. The dispatcher
// uses it as the primary strategy when configured, falling back to direct
// Service search when it fails or returns too little.
type KnowledgeAgent interface {
	Retrieve(ctx context.Context, query string, top int) ([]Result, error)
}

// Upserter is implemented by backends that accept document writes; index
// population is setup tooling, not part of the turn pipeline.
type Upserter interface {
	Upsert(ctx context.Context, docs ...Result) error
}

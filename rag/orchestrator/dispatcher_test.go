package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/rag/citation"
	"github.com/sweetpotato0/grounded/search"
	"github.com/sweetpotato0/grounded/websearch"
)

// indexedSearch serves canned results per index name and full documents by
// id filter, mimicking the hosted backend's surface.
type indexedSearch struct {
	mu        sync.Mutex
	byIndex   map[string][]search.Result
	full      map[string]search.Result
	lastOpts  []search.Options
	failIndex string
}

func (s *indexedSearch) Search(ctx context.Context, query string, opts search.Options) (*search.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOpts = append(s.lastOpts, opts)

	if opts.Index != "" && opts.Index == s.failIndex {
		return nil, errors.New("index unavailable")
	}
	if strings.HasPrefix(opts.Filter, "id eq ") {
		id := strings.Trim(strings.TrimPrefix(opts.Filter, "id eq "), "'")
		if doc, ok := s.full[id]; ok {
			return &search.Results{Results: []search.Result{doc}, Count: 1}, nil
		}
		return &search.Results{}, nil
	}

	results := s.byIndex[opts.Index]
	if opts.Top > 0 && opts.Top < len(results) {
		results = results[:opts.Top]
	}
	if opts.SummaryOnly {
		trimmed := make([]search.Result, len(results))
		for i, r := range results {
			r.Content = "summary: " + r.Title
			trimmed[i] = r
		}
		results = trimmed
	}
	return &search.Results{Results: results, Count: len(results)}, nil
}

func TestFederatedSearchWeightsAndDeduplicates(t *testing.T) {
	svc := &indexedSearch{byIndex: map[string][]search.Result{
		"kb": {
			{ID: "doc-a", Title: "A", Score: 0.8},
			{ID: "shared", Title: "S", Score: 0.6},
		},
		"wiki": {
			{ID: "shared", Title: "S", Score: 0.9},
			{ID: "doc-b", Title: "B", Score: 0.8},
		},
	}}
	d := &dispatcher{
		cfg: applyOptions(defaultConfig(), []Option{
			WithFederation(IndexWeight{Name: "kb", Weight: 1.0}, IndexWeight{Name: "wiki", Weight: 0.5}),
		}),
		service: svc,
		emit:    NopEmitter,
	}

	refs := d.federatedSearch(context.Background(), "anything", 10)
	if len(refs) != 3 {
		t.Fatalf("expected 3 deduplicated results, got %d", len(refs))
	}
	if refs[0].ID != "doc-a" {
		t.Fatalf("expected doc-a first, got %s", refs[0].ID)
	}
	for _, r := range refs {
		if r.ID == "shared" && r.Score != 0.6 {
			// kb's weighted 0.6 beats wiki's 0.9*0.5
			t.Fatalf("expected the higher weighted score kept for shared, got %v", r.Score)
		}
	}
}

func TestFederatedSearchDoesNotMutateBackendMetadata(t *testing.T) {
	stored := map[string]any{"lang": "en"}
	svc := &indexedSearch{byIndex: map[string][]search.Result{
		"kb":   {{ID: "doc-a", Title: "A", Score: 0.8, Metadata: stored}},
		"wiki": {{ID: "doc-a", Title: "A", Score: 0.9, Metadata: stored}},
	}}
	d := &dispatcher{
		cfg: applyOptions(defaultConfig(), []Option{
			WithFederation(IndexWeight{Name: "kb", Weight: 1.0}, IndexWeight{Name: "wiki", Weight: 1.0}),
		}),
		service: svc,
		emit:    NopEmitter,
	}

	refs := d.federatedSearch(context.Background(), "anything", 5)
	if len(refs) != 1 {
		t.Fatalf("expected 1 deduplicated result, got %d", len(refs))
	}
	if _, tainted := stored["index"]; tainted {
		t.Fatal("backend's stored metadata map was annotated in place")
	}
	if refs[0].Metadata["index"] == nil || refs[0].Metadata["lang"] != "en" {
		t.Fatalf("expected annotated copy carrying original keys, got %#v", refs[0].Metadata)
	}
}

func TestFederatedSearchSurvivesIndexFailure(t *testing.T) {
	svc := &indexedSearch{
		byIndex: map[string][]search.Result{
			"kb": {{ID: "doc-a", Title: "A", Score: 0.8}},
		},
		failIndex: "wiki",
	}
	d := &dispatcher{
		cfg: applyOptions(defaultConfig(), []Option{
			WithFederation(IndexWeight{Name: "kb", Weight: 1.0}, IndexWeight{Name: "wiki", Weight: 1.0}),
		}),
		service: svc,
		emit:    NopEmitter,
	}

	refs := d.federatedSearch(context.Background(), "anything", 5)
	if len(refs) != 1 || refs[0].ID != "doc-a" {
		t.Fatalf("expected the healthy index's results, got %#v", refs)
	}
}

func TestLazySearchDefersContentUntilHydrate(t *testing.T) {
	svc := &indexedSearch{
		byIndex: map[string][]search.Result{
			"": {{ID: "doc-a", Title: "Doc A", Content: "full text of doc A", Score: 0.9}},
		},
		full: map[string]search.Result{
			"doc-a": {ID: "doc-a", Title: "Doc A", Content: "full text of doc A", PageNumber: 4},
		},
	}
	cfg := defaultConfig()
	cfg.EnableLazy = true
	d := &dispatcher{cfg: cfg, service: svc, emit: NopEmitter}

	refs := d.lazySearch(context.Background(), "doc a", 1)
	if len(refs) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(refs))
	}
	ref := refs[0]
	if !ref.Lazy || !strings.HasPrefix(ref.Content, "summary:") {
		t.Fatalf("expected a summary-only lazy reference, got %#v", ref.Result)
	}

	if err := ref.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate error: %v", err)
	}
	if ref.Lazy || ref.Content != "full text of doc A" || ref.PageNumber != 4 {
		t.Fatalf("expected full content after hydration, got %#v", ref.Result)
	}

	// the loader must not run twice
	before := len(svc.lastOpts)
	if err := ref.Hydrate(context.Background()); err != nil {
		t.Fatalf("second Hydrate error: %v", err)
	}
	if len(svc.lastOpts) != before {
		t.Fatalf("expected cached hydration, loader ran again")
	}
}

func TestAdaptiveRefineReformulatesUntilAdequate(t *testing.T) {
	svc := &indexedSearch{byIndex: map[string][]search.Result{
		"": {{ID: "extra", Title: "Extra", Content: "more evidence", Score: 0.8}},
	}}
	judge := &stubLLM{responses: []string{
		`{"score":0.1}`,         // initial coverage: weak
		`{"query":"better query"}`, // reformulation
		`{"score":0.9}`,         // coverage after merge: adequate
	}}
	cfg := defaultConfig()
	cfg.EnableAdaptive = true
	d := &dispatcher{cfg: cfg, service: svc, judge: judge, emit: NopEmitter}

	initial := wrapResults([]search.Result{{ID: "seed", Title: "Seed", Content: "thin evidence", Score: 0.4}})
	diag := Diagnostics{}
	refs := d.adaptiveRefine(context.Background(), "original query", 4, initial, &diag)

	if !diag.Escalated || diag.Attempts != 1 {
		t.Fatalf("expected one escalated attempt, got %#v", diag)
	}
	if len(diag.Reformulations) != 1 || diag.Reformulations[0] != "better query" {
		t.Fatalf("expected the reformulated query recorded, got %#v", diag.Reformulations)
	}
	if len(refs) != 2 {
		t.Fatalf("expected merged results, got %d", len(refs))
	}
}

func TestAdaptiveRefineBoundedByMaxAttempts(t *testing.T) {
	svc := &indexedSearch{byIndex: map[string][]search.Result{}}
	// with zero results coverage never reaches the judge, so every call is
	// a reformulation
	judge := &stubLLM{responses: []string{
		`{"query":"try one"}`,
		`{"query":"try two"}`,
		`{"query":"try three"}`,
	}}
	cfg := defaultConfig()
	cfg.EnableAdaptive = true
	cfg.AdaptiveMaxAttempts = 3
	d := &dispatcher{cfg: cfg, service: svc, judge: judge, emit: NopEmitter}

	diag := Diagnostics{}
	d.adaptiveRefine(context.Background(), "hopeless query", 4, nil, &diag)
	if diag.Attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", diag.Attempts)
	}
	if len(diag.Reformulations) != 3 {
		t.Fatalf("expected 3 reformulations recorded, got %#v", diag.Reformulations)
	}
}

func TestDispatchDecomposesComplexQuestion(t *testing.T) {
	svc := &indexedSearch{byIndex: map[string][]search.Result{
		"": {{ID: "doc-a", Title: "A", Content: "evidence", Score: 0.9}},
	}}
	judge := &stubLLM{responses: []string{
		`{"score":0.9}`,
		`{"subqueries":[{"id":"sq-1","query":"part one"},{"id":"sq-2","query":"part two","depends_on":["sq-1"]}]}`,
	}}
	cfg := defaultConfig()
	cfg.EnableDecomposition = true
	d := &dispatcher{cfg: cfg, service: svc, judge: judge, emit: NopEmitter}

	plan := &Plan{Confidence: 0.8, Steps: []PlanStep{{Action: ActionVectorSearch, Query: "complex question", K: 3}}}
	result, err := d.dispatch(context.Background(), "complex question", plan)
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if result.Diag.Mode != "decomposed" || result.Diag.SubQueries != 2 {
		t.Fatalf("expected decomposed dispatch, got %#v", result.Diag)
	}
	if len(result.References) == 0 {
		t.Fatalf("expected references from sub-queries")
	}
}

func TestDispatchCyclicDecompositionFailsTurn(t *testing.T) {
	judge := &stubLLM{responses: []string{
		`{"score":0.9}`,
		`{"subqueries":[{"id":"sq-1","query":"one","depends_on":["sq-2"]},{"id":"sq-2","query":"two","depends_on":["sq-1"]}]}`,
	}}
	cfg := defaultConfig()
	cfg.EnableDecomposition = true
	d := &dispatcher{cfg: cfg, service: &indexedSearch{}, judge: judge, emit: NopEmitter}

	plan := &Plan{Steps: []PlanStep{{Action: ActionVectorSearch, Query: "q", K: 2}}}
	_, err := d.dispatch(context.Background(), "q", plan)
	if !errors.Is(err, grounderr.ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

type stubWebSearcher struct {
	results []websearch.Result
	err     error
}

func (s *stubWebSearcher) Search(ctx context.Context, query string, count int) ([]websearch.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func TestDispatchEnumeratesWebAndReferences(t *testing.T) {
	svc := &indexedSearch{byIndex: map[string][]search.Result{
		"": {{ID: "doc-a", Title: "A", Content: "kb evidence", Score: 0.9}},
	}}
	web := &stubWebSearcher{results: []websearch.Result{
		{Title: "Fresh News", Snippet: "breaking update", URL: "https://news.example/x", Rank: 1},
	}}
	d := &dispatcher{cfg: defaultConfig(), service: svc, web: web, emit: NopEmitter}

	plan := &Plan{Steps: []PlanStep{{Action: ActionBoth, Query: "topic", K: 3}}}
	result, err := d.dispatch(context.Background(), "topic", plan)
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}

	entries := result.Enum.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 enumerated sources, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Number != i+1 {
			t.Fatalf("entry %d numbered %d", i, entry.Number)
		}
		switch entry.Kind {
		case citation.SourceReference:
			if result.References[entry.Index].ID != entry.ID {
				t.Fatalf("reference entry %d does not point at its reference", entry.Number)
			}
		case citation.SourceWeb:
			if result.WebResults[entry.Index].URL != entry.URL {
				t.Fatalf("web entry %d does not point at its result", entry.Number)
			}
		}
	}
	if result.Diag.DocumentCount != 1 || result.Diag.WebResultCount != 1 {
		t.Fatalf("unexpected diagnostics %#v", result.Diag)
	}
}

func TestDispatchWebFailureIsNonFatal(t *testing.T) {
	svc := &indexedSearch{byIndex: map[string][]search.Result{
		"": {{ID: "doc-a", Title: "A", Content: "kb evidence", Score: 0.9}},
	}}
	web := &stubWebSearcher{err: errors.New("engine down")}
	d := &dispatcher{cfg: defaultConfig(), service: svc, web: web, emit: NopEmitter}

	plan := &Plan{Steps: []PlanStep{{Action: ActionBoth, Query: "topic", K: 3}}}
	result, err := d.dispatch(context.Background(), "topic", plan)
	if err != nil {
		t.Fatalf("expected web failure swallowed, got %v", err)
	}
	if len(result.References) != 1 || len(result.WebResults) != 0 {
		t.Fatalf("expected references without web results, got %d/%d", len(result.References), len(result.WebResults))
	}
}

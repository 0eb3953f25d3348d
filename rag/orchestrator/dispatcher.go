package orchestrator

import (
	"context"
	"strings"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/rag/citation"
	"github.com/sweetpotato0/grounded/rag/fusion"
	"github.com/sweetpotato0/grounded/search"
	"github.com/sweetpotato0/grounded/vector"
	"github.com/sweetpotato0/grounded/websearch"
)

// dispatcher executes the plan's retrieval steps. Strategy selection is
// static per pipeline: federation when indexes are configured, lazy when
// enabled, otherwise knowledge-agent-first with direct fallback. Adaptive
// reformulation and decomposition layer on top when enabled. Retrieval
// failures degrade to fewer results; only an invalid sub-query graph aborts
// the turn.
type dispatcher struct {
	cfg      *Config
	service  search.Service
	agent    search.KnowledgeAgent
	web      websearch.Searcher
	embedder vector.Embedder
	judge    llm.Client
	emit     Emitter
}

// evidenceAccumulator collects references and web results across steps,
// deduplicated, while remembering each step's ranked id list for fusion.
type evidenceAccumulator struct {
	refs     []*Reference
	refIndex map[string]int
	refLists [][]string
	web      []websearch.Result
	webIndex map[string]int
}

func newAccumulator() *evidenceAccumulator {
	return &evidenceAccumulator{
		refIndex: make(map[string]int),
		webIndex: make(map[string]int),
	}
}

// addRefs records one strategy's ranked output. The first occurrence of an
// id wins; later duplicates still count toward that id's fusion rank.
func (a *evidenceAccumulator) addRefs(refs []*Reference) {
	if len(refs) == 0 {
		return
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID == "" {
			continue
		}
		ids = append(ids, r.ID)
		if _, seen := a.refIndex[r.ID]; !seen {
			a.refIndex[r.ID] = len(a.refs)
			a.refs = append(a.refs, r)
		}
	}
	if len(ids) > 0 {
		a.refLists = append(a.refLists, ids)
	}
}

func (a *evidenceAccumulator) addWeb(results []websearch.Result) {
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		if _, seen := a.webIndex[r.URL]; !seen {
			a.webIndex[r.URL] = len(a.web)
			a.web = append(a.web, r)
		}
	}
}

func (a *evidenceAccumulator) webIDs() []string {
	ids := make([]string, len(a.web))
	for i, r := range a.web {
		ids[i] = webCitationID(r.URL)
	}
	return ids
}

func webCitationID(url string) string { return "web:" + url }

func (d *dispatcher) dispatch(ctx context.Context, question string, plan *Plan) (*dispatchResult, error) {
	log := logging.WithComponent("dispatcher")
	acc := newAccumulator()
	diag := Diagnostics{Mode: "direct"}

	decomposed := false
	if d.cfg.EnableDecomposition && d.judge != nil && plan.RequestsRetrieval() {
		score := d.complexityScore(ctx, question)
		d.emit.Emit(Event{Type: EventComplexity, Payload: map[string]any{
			"score":     score,
			"threshold": d.cfg.ComplexityThreshold,
		}})
		if score >= d.cfg.ComplexityThreshold {
			handled, err := d.decompose(ctx, question, acc, &diag)
			if err != nil {
				return nil, err
			}
			decomposed = handled
		}
	}

	for _, step := range plan.Steps {
		switch step.Action {
		case ActionVectorSearch:
			if !decomposed {
				d.retrieveStep(ctx, step, acc, &diag)
			}
		case ActionWebSearch:
			d.webStep(ctx, step, acc)
		case ActionBoth:
			if !decomposed {
				d.retrieveStep(ctx, step, acc, &diag)
			}
			d.webStep(ctx, step, acc)
		case ActionAnswer:
			// No retrieval; the loop answers from context alone.
		}
	}

	result := d.finalize(ctx, question, acc, diag)
	log.Info("dispatch complete",
		"mode", result.Diag.Mode,
		"documents", result.Diag.DocumentCount,
		"web_results", result.Diag.WebResultCount,
		"fallback_reason", result.Diag.FallbackReason)
	return result, nil
}

// retrieveStep runs one vector retrieval step through the configured
// strategy and layers adaptive reformulation on top when enabled.
func (d *dispatcher) retrieveStep(ctx context.Context, step PlanStep, acc *evidenceAccumulator, diag *Diagnostics) {
	top := step.K
	if top <= 0 {
		top = d.cfg.TopK
	}

	var refs []*Reference
	switch {
	case len(d.cfg.Federation) > 0:
		diag.Mode = "federated"
		refs = d.federatedSearch(ctx, step.Query, top)
	case d.cfg.EnableLazy:
		diag.Mode = "lazy"
		refs = d.lazySearch(ctx, step.Query, top)
	default:
		refs = d.primarySearch(ctx, step.Query, top, diag)
	}

	if d.cfg.EnableAdaptive && d.judge != nil {
		refs = d.adaptiveRefine(ctx, step.Query, top, refs, diag)
	}

	acc.addRefs(refs)
	d.emit.Emit(Event{Type: EventTool, Payload: map[string]any{
		"action": string(step.Action),
		"query":  step.Query,
		"count":  len(refs),
	}})
}

// primarySearch prefers the knowledge agent and falls back to direct search
// when the agent errors or under-delivers.
func (d *dispatcher) primarySearch(ctx context.Context, query string, top int, diag *Diagnostics) []*Reference {
	log := logging.WithComponent("dispatcher")

	if d.agent != nil {
		results, err := d.agent.Retrieve(ctx, query, top)
		switch {
		case err != nil:
			log.Warn("knowledge agent failed, falling back to direct search", "error", err)
			diag.FallbackReason = "agent_error"
		case len(results) < d.cfg.MinDocuments:
			log.Info("knowledge agent under-delivered, falling back to direct search",
				"got", len(results), "min", d.cfg.MinDocuments)
			diag.FallbackReason = "insufficient_documents"
		default:
			diag.Mode = "agent"
			return wrapResults(results)
		}
	}

	results := d.directSearch(ctx, query, top)
	return wrapResults(results)
}

// directSearch queries the search service, attaching a query embedding for
// the vector leg when an embedder is configured.
func (d *dispatcher) directSearch(ctx context.Context, query string, top int) []search.Result {
	log := logging.WithComponent("dispatcher")

	opts := search.Options{Top: top, SemanticRank: true}
	if d.embedder != nil {
		vec, err := d.embedder.Embed(ctx, query)
		if err != nil {
			log.Warn("query embedding failed, keyword-only search", "error", err)
		} else {
			opts.Vector = vec
		}
	}

	resp, err := d.service.Search(ctx, query, opts)
	if err != nil {
		log.Warn("direct search failed", "query", trimForLog(query, 80), "error", err)
		d.emit.Emit(Event{Type: EventActivity, Payload: map[string]any{
			"activity": "search_failed",
			"detail":   err.Error(),
		}})
		return nil
	}
	return resp.Results
}

func (d *dispatcher) webStep(ctx context.Context, step PlanStep, acc *evidenceAccumulator) {
	log := logging.WithComponent("dispatcher")
	if d.web == nil {
		log.Debug("web step skipped, no searcher configured")
		return
	}
	results, err := d.web.Search(ctx, step.Query, d.cfg.WebResultCount)
	if err != nil {
		// Web evidence is supplementary; the turn continues without it.
		log.Warn("web search failed", "query", trimForLog(step.Query, 80), "error", err)
		d.emit.Emit(Event{Type: EventActivity, Payload: map[string]any{
			"activity": "web_search_failed",
			"detail":   err.Error(),
		}})
		return
	}
	acc.addWeb(results)
	d.emit.Emit(Event{Type: EventTool, Payload: map[string]any{
		"action": string(ActionWebSearch),
		"query":  step.Query,
		"count":  len(results),
	}})
}

// finalize fuses the per-step rankings into one citation order and freezes
// the enumeration for the rest of the turn.
func (d *dispatcher) finalize(ctx context.Context, question string, acc *evidenceAccumulator, diag Diagnostics) *dispatchResult {
	lists := make([][]string, 0, len(acc.refLists)+1)
	lists = append(lists, acc.refLists...)
	if len(acc.web) > 0 {
		lists = append(lists, acc.webIDs())
	}

	fused := fusion.RRF(d.cfg.FusionK, lists...)
	fused = d.boost(ctx, question, fused, acc)

	refs := make([]*Reference, 0, len(acc.refs))
	web := make([]websearch.Result, 0, len(acc.web))
	entries := make([]citation.Entry, 0, len(fused))
	for _, f := range fused {
		if strings.HasPrefix(f.ID, "web:") {
			idx, ok := acc.webIndex[strings.TrimPrefix(f.ID, "web:")]
			if !ok {
				continue
			}
			r := acc.web[idx]
			entries = append(entries, citation.Entry{
				Kind:  citation.SourceWeb,
				Index: len(web),
				ID:    f.ID,
				Title: r.Title,
				URL:   r.URL,
			})
			web = append(web, r)
			continue
		}
		idx, ok := acc.refIndex[f.ID]
		if !ok {
			continue
		}
		r := acc.refs[idx]
		entries = append(entries, citation.Entry{
			Kind:  citation.SourceReference,
			Index: len(refs),
			ID:    r.ID,
			Title: r.Title,
			URL:   r.URL,
		})
		refs = append(refs, r)
	}

	diag.DocumentCount = len(refs)
	diag.WebResultCount = len(web)
	diag.TopScore, diag.MeanScore = scoreStats(refs)

	enum := citation.Build(entries)
	d.emit.Emit(Event{Type: EventCitations, Payload: map[string]any{
		"count":   enum.Len(),
		"entries": enum.Entries(),
	}})

	return &dispatchResult{References: refs, WebResults: web, Enum: enum, Diag: diag}
}

// boost blends embedding similarity into the fused order when configured.
func (d *dispatcher) boost(ctx context.Context, question string, fused []fusion.Fused, acc *evidenceAccumulator) []fusion.Fused {
	if d.embedder == nil || d.cfg.SemanticBoostWeight <= 0 || len(fused) == 0 {
		return fused
	}
	log := logging.WithComponent("dispatcher")

	queryVec, err := d.embedder.Embed(ctx, question)
	if err != nil {
		log.Warn("semantic boost skipped, query embedding failed", "error", err)
		return fused
	}

	ids := make([]string, 0, len(acc.refs))
	texts := make([]string, 0, len(acc.refs))
	for _, r := range acc.refs {
		text := r.Content
		if text == "" {
			text = r.Title
		}
		if text == "" {
			continue
		}
		ids = append(ids, r.ID)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return fused
	}

	vecs, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(ids) {
		log.Warn("semantic boost skipped, batch embedding failed", "error", err)
		return fused
	}
	embeddings := make(map[string][]float32, len(ids))
	for i, id := range ids {
		embeddings[id] = vecs[i]
	}
	return fusion.SemanticBoost(ctx, fused, queryVec, embeddings, d.cfg.SemanticBoostWeight)
}

func wrapResults(results []search.Result) []*Reference {
	refs := make([]*Reference, 0, len(results))
	for _, r := range results {
		refs = append(refs, &Reference{Result: r})
	}
	return refs
}

func scoreStats(refs []*Reference) (top, mean float32) {
	if len(refs) == 0 {
		return 0, 0
	}
	var sum float32
	for _, r := range refs {
		score := r.Score
		if r.RerankScore > 0 {
			score = r.RerankScore
		}
		if score > top {
			top = score
		}
		sum += score
	}
	return top, sum / float32(len(refs))
}

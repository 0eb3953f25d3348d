package orchestrator

import (
	"context"
	"fmt"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/search"
)

// lazySearch fetches compact summaries first and defers full-document loads
// to Reference.Hydrate. The loop hydrates selectively between critic
// iterations instead of paying for every full document up front.
func (d *dispatcher) lazySearch(ctx context.Context, query string, top int) []*Reference {
	log := logging.WithComponent("lazy")

	fetch := top
	if d.cfg.LazyPrefetch > fetch {
		fetch = d.cfg.LazyPrefetch
	}
	resp, err := d.service.Search(ctx, query, search.Options{
		Top:          fetch,
		SemanticRank: true,
		SummaryOnly:  true,
	})
	if err != nil {
		log.Warn("summary search failed", "query", trimForLog(query, 80), "error", err)
		return nil
	}

	results := resp.Results
	if len(results) > top {
		results = results[:top]
	}
	refs := make([]*Reference, 0, len(results))
	for _, r := range results {
		id := r.ID
		refs = append(refs, &Reference{
			Result: r,
			Lazy:   true,
			loader: func(ctx context.Context) (search.Result, error) {
				return d.loadDocument(ctx, id)
			},
		})
	}
	return refs
}

// loadDocument fetches one full document by exact id.
func (d *dispatcher) loadDocument(ctx context.Context, id string) (search.Result, error) {
	resp, err := d.service.Search(ctx, "", search.Options{
		Filter: fmt.Sprintf("id eq '%s'", id),
		Top:    1,
	})
	if err != nil {
		return search.Result{}, fmt.Errorf("load document %s: %w", id, err)
	}
	if len(resp.Results) == 0 {
		return search.Result{}, fmt.Errorf("load document %s: %w", id, grounderr.ErrNotFound)
	}
	return resp.Results[0], nil
}

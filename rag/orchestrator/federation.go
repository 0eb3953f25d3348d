package orchestrator

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/search"
)

// federatedSearch fans the query out to every configured index concurrently,
// weights each index's scores, and merges by id keeping the higher weighted
// score. An index that errors contributes nothing; the turn goes on with
// whatever the other indexes returned.
func (d *dispatcher) federatedSearch(ctx context.Context, query string, top int) []*Reference {
	log := logging.WithComponent("federation")

	// Over-fetch per index so the merged cut still has top good candidates.
	perIndex := (top*3 + 2*len(d.cfg.Federation) - 1) / (2 * len(d.cfg.Federation))
	if perIndex < 1 {
		perIndex = 1
	}

	var mu sync.Mutex
	merged := make(map[string]search.Result)

	eg, gctx := errgroup.WithContext(ctx)
	for _, idx := range d.cfg.Federation {
		eg.Go(func() error {
			resp, err := d.service.Search(gctx, query, search.Options{
				Top:          perIndex,
				Index:        idx.Name,
				SemanticRank: true,
			})
			if err != nil {
				log.Warn("index search failed", "index", idx.Name, "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range resp.Results {
				r.Score *= idx.Weight
				if prev, ok := merged[r.ID]; ok && prev.Score >= r.Score {
					continue
				}
				// Backends may hand back maps aliasing their stored
				// documents; annotate a copy, never the original.
				meta := make(map[string]any, len(r.Metadata)+1)
				for k, v := range r.Metadata {
					meta[k] = v
				}
				meta["index"] = idx.Name
				r.Metadata = meta
				merged[r.ID] = r
			}
			return nil
		})
	}
	// Workers swallow their errors, so Wait only orders completion.
	_ = eg.Wait()

	results := make([]search.Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > top {
		results = results[:top]
	}
	return wrapResults(results)
}

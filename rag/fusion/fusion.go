// Package fusion merges ranked result lists with reciprocal rank fusion and
// an optional embedding-similarity boost.
package fusion

import (
	"context"
	"sort"

	"github.com/sweetpotato0/grounded/vector"
)

// DefaultK is the standard RRF rank constant.
const DefaultK = 60

// Item is one entry of a ranked list.
type Item struct {
	ID     string
	Source int // index of the contributing list, lower wins ties
	Rank   int // 1-based position inside its list
}

// Fused is a merged item with its fusion score.
type Fused struct {
	ID     string
	Score  float64
	Source int // earliest contributing source
}

// RRF merges the given ranked lists: each occurrence of an id at rank r in a
// list contributes 1/(k+r). k <= 0 uses DefaultK. Ties break toward the item
// whose earliest source index is lower.
func RRF(k int, lists ...[]string) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	index := make(map[string]*Fused)
	order := make([]string, 0)
	for source, list := range lists {
		for i, id := range list {
			rank := i + 1
			f, ok := index[id]
			if !ok {
				f = &Fused{ID: id, Source: source}
				index[id] = f
				order = append(order, id)
			}
			f.Score += 1 / float64(k+rank)
		}
	}

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		out = append(out, *index[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// SemanticBoost blends each fused score with cosine similarity between the
// query embedding and the item embedding: score' = score*(1-w) + sim*w.
// Items without an embedding keep their fusion score. weight outside (0,1]
// leaves the input untouched.
func SemanticBoost(ctx context.Context, fused []Fused, queryVec []float32, embeddings map[string][]float32, weight float64) []Fused {
	if weight <= 0 || weight > 1 || len(queryVec) == 0 {
		return fused
	}
	out := make([]Fused, len(fused))
	copy(out, fused)
	for i := range out {
		vec, ok := embeddings[out[i].ID]
		if !ok || len(vec) == 0 {
			continue
		}
		sim := float64(vector.CosineSimilarity(queryVec, vec))
		out[i].Score = out[i].Score*(1-weight) + sim*weight
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Source < out[j].Source
	})
	return out
}

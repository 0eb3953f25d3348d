package fusion

import (
	"context"
	"math"
	"testing"
)

func TestRRFScores(t *testing.T) {
	fused := RRF(60, []string{"a", "b"}, []string{"b", "c"})

	scores := make(map[string]float64, len(fused))
	for _, f := range fused {
		scores[f.ID] = f.Score
	}

	wantB := 1.0/62 + 1.0/61
	if math.Abs(scores["b"]-wantB) > 1e-12 {
		t.Fatalf("score for b = %v, want %v", scores["b"], wantB)
	}
	if fused[0].ID != "b" {
		t.Fatalf("expected b ranked first, got %s", fused[0].ID)
	}
}

func TestRRFMoreListsScoreHigher(t *testing.T) {
	// An item at the same rank in two lists must beat an item ranked
	// identically in just one.
	fused := RRF(0, []string{"both", "solo"}, []string{"both"})
	if fused[0].ID != "both" {
		t.Fatalf("expected the doubly-listed item first, got %s", fused[0].ID)
	}
}

func TestRRFTieBreaksTowardEarlierSource(t *testing.T) {
	fused := RRF(60, []string{"x"}, []string{"y"})
	if len(fused) != 2 {
		t.Fatalf("expected 2 items, got %d", len(fused))
	}
	if fused[0].ID != "x" {
		t.Fatalf("expected first-source item to win the tie, got %s", fused[0].ID)
	}
}

func TestRRFZeroKUsesDefault(t *testing.T) {
	fused := RRF(0, []string{"a"})
	want := 1.0 / float64(DefaultK+1)
	if math.Abs(fused[0].Score-want) > 1e-12 {
		t.Fatalf("score = %v, want %v", fused[0].Score, want)
	}
}

func TestSemanticBoostReorders(t *testing.T) {
	ctx := context.Background()
	fused := RRF(60, []string{"weak", "strong"})

	embeddings := map[string][]float32{
		"weak":   {0, 1, 0},
		"strong": {1, 0, 0},
	}
	boosted := SemanticBoost(ctx, fused, []float32{1, 0, 0}, embeddings, 0.9)
	if boosted[0].ID != "strong" {
		t.Fatalf("expected similarity to dominate with weight 0.9, got %s first", boosted[0].ID)
	}
}

func TestSemanticBoostZeroWeightNoop(t *testing.T) {
	ctx := context.Background()
	fused := RRF(60, []string{"a", "b"})
	boosted := SemanticBoost(ctx, fused, []float32{1, 0}, map[string][]float32{"b": {1, 0}}, 0)
	for i := range fused {
		if boosted[i] != fused[i] {
			t.Fatalf("expected no change with weight 0")
		}
	}
}

func TestSemanticBoostMissingEmbeddingKeepsScore(t *testing.T) {
	ctx := context.Background()
	fused := RRF(60, []string{"a"})
	boosted := SemanticBoost(ctx, fused, []float32{1, 0}, nil, 0.5)
	if boosted[0].Score != fused[0].Score {
		t.Fatalf("expected fusion score kept without an embedding")
	}
}

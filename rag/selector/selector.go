// Package selector chooses which running-summary bullets enter the context
// budget: by embedding similarity to the current question, or by recency when
// similarity is disabled or unavailable.
package selector

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/sweetpotato0/grounded/memory"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/vector"
)

// Mode names a selection strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeRecency  Mode = "recency"
)

// Stats describes one selection run.
type Stats struct {
	Mode           Mode
	CandidateCount int
	SelectedCount  int
	TopScore       float32
	BottomScore    float32
	FallbackReason string
}

// Selector picks summary bullets for the current turn.
type Selector struct {
	embedder vector.Embedder
	semantic bool
	logger   *slog.Logger
}

// Option customises the selector.
type Option func(*Selector)

// WithSemantic toggles similarity-based selection; when disabled the selector
// always uses recency.
func WithSemantic(enabled bool) Option {
	return func(s *Selector) {
		s.semantic = enabled
	}
}

// New creates a selector. A nil embedder forces recency mode.
func New(embedder vector.Embedder, opts ...Option) *Selector {
	s := &Selector{
		embedder: embedder,
		semantic: embedder != nil,
		logger:   logging.WithComponent("summary_selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.embedder == nil {
		s.semantic = false
	}
	return s
}

// Select returns at most maxItems bullets plus selection statistics.
// Candidates are deduplicated by trimmed text before either mode runs.
// Embedding failures fall back to recency and record the reason.
func (s *Selector) Select(ctx context.Context, query string, candidates []memory.SummaryBullet, maxItems int) ([]memory.SummaryBullet, Stats) {
	deduped := dedupe(candidates)
	stats := Stats{
		Mode:           ModeRecency,
		CandidateCount: len(deduped),
	}
	if maxItems <= 0 || len(deduped) == 0 {
		return nil, stats
	}

	if s.semantic {
		selected, top, bottom, err := s.selectSemantic(ctx, query, deduped, maxItems)
		if err == nil {
			stats.Mode = ModeSemantic
			stats.SelectedCount = len(selected)
			stats.TopScore = top
			stats.BottomScore = bottom
			return selected, stats
		}
		stats.FallbackReason = err.Error()
		s.logger.Warn("semantic selection failed, falling back to recency", "error", err)
	}

	selected := selectRecency(deduped, maxItems)
	stats.SelectedCount = len(selected)
	return selected, stats
}

func (s *Selector) selectSemantic(ctx context.Context, query string, candidates []memory.SummaryBullet, maxItems int) ([]memory.SummaryBullet, float32, float32, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, 0, 0, err
	}

	// fill in missing candidate embeddings in one batch
	var missingTexts []string
	var missingIdx []int
	for i, c := range candidates {
		if len(c.Embedding) == 0 {
			missingTexts = append(missingTexts, c.Text)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missingTexts) > 0 {
		vecs, err := s.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			return nil, 0, 0, err
		}
		for j, idx := range missingIdx {
			if j < len(vecs) {
				candidates[idx].Embedding = vecs[j]
			}
		}
	}

	type ranked struct {
		index int
		score float32
	}
	scores := make([]ranked, len(candidates))
	for i, c := range candidates {
		scores[i] = ranked{index: i, score: vector.CosineSimilarity(queryVec, c.Embedding)}
	}
	// ties resolve to the earlier candidate for stability
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})
	if len(scores) > maxItems {
		scores = scores[:maxItems]
	}

	selected := make([]memory.SummaryBullet, len(scores))
	top, bottom := float32(0), float32(0)
	for i, r := range scores {
		selected[i] = candidates[r.index]
		if i == 0 {
			top = r.score
		}
		bottom = r.score
	}
	return selected, top, bottom, nil
}

func selectRecency(candidates []memory.SummaryBullet, maxItems int) []memory.SummaryBullet {
	if len(candidates) <= maxItems {
		return candidates
	}
	return candidates[len(candidates)-maxItems:]
}

func dedupe(candidates []memory.SummaryBullet) []memory.SummaryBullet {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]memory.SummaryBullet, 0, len(candidates))
	for _, c := range candidates {
		key := strings.TrimSpace(c.Text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

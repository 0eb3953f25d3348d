package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/vector"
)

// resultQuality holds the post-retrieval signals the adaptive strategy
// judges a result set by.
type resultQuality struct {
	Coverage     float64
	Diversity    float32
	HasDiversity bool
	Authority    float64
	Count        int
}

func (q resultQuality) weak(cfg *Config) bool {
	if q.Count < cfg.MinDocuments {
		return true
	}
	if q.Coverage < cfg.AdaptiveCoverageThreshold {
		return true
	}
	if q.HasDiversity && float64(q.Diversity) < cfg.AdaptiveDiversityThreshold {
		return true
	}
	return false
}

// adaptiveRefine inspects what a step retrieved and, when the set is weak,
// reformulates the query and retrieves again, accumulating results. Bounded
// by AdaptiveMaxAttempts per step.
func (d *dispatcher) adaptiveRefine(ctx context.Context, query string, top int, refs []*Reference, diag *Diagnostics) []*Reference {
	log := logging.WithComponent("adaptive")

	quality := d.assessQuality(ctx, query, refs)
	if !quality.weak(d.cfg) {
		return refs
	}

	diag.Escalated = true
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r.ID] = true
	}
	tried := []string{query}

	for attempt := 1; attempt <= d.cfg.AdaptiveMaxAttempts; attempt++ {
		diag.Attempts = attempt
		next := d.reformulate(ctx, query, tried)
		if next == "" || containsFold(tried, next) {
			break
		}
		tried = append(tried, next)
		diag.Reformulations = append(diag.Reformulations, next)
		log.Info("reformulated query",
			"attempt", attempt,
			"query", trimForLog(next, 80),
			"coverage", quality.Coverage,
			"diversity", quality.Diversity,
			"authority", quality.Authority)
		d.emit.Emit(Event{Type: EventActivity, Payload: map[string]any{
			"activity": "reformulate",
			"attempt":  attempt,
			"query":    next,
		}})

		more := d.primarySearch(ctx, next, top, diag)
		for _, r := range more {
			if r.ID == "" || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			refs = append(refs, r)
		}

		quality = d.assessQuality(ctx, query, refs)
		if !quality.weak(d.cfg) {
			break
		}
	}
	return refs
}

// assessQuality scores the result set: judged coverage of the original
// query, embedding diversity, and raw count.
func (d *dispatcher) assessQuality(ctx context.Context, query string, refs []*Reference) resultQuality {
	quality := resultQuality{Coverage: 1, Count: len(refs)}
	if len(refs) == 0 {
		quality.Coverage = 0
		return quality
	}

	quality.Coverage = d.coverageScore(ctx, query, refs)
	quality.Authority = authorityScore(refs)

	if d.embedder != nil && len(refs) >= 2 {
		texts := make([]string, 0, len(refs))
		for _, r := range refs {
			if r.Content != "" {
				texts = append(texts, r.Content)
			}
		}
		if len(texts) >= 2 {
			if vecs, err := d.embedder.EmbedBatch(ctx, texts); err == nil {
				quality.Diversity = vector.MeanPairwiseDissimilarity(vecs)
				quality.HasDiversity = true
			}
		}
	}
	return quality
}

// coverageScore asks the judge how much of the query the passages cover.
// A failed judge call scores 1 so it never triggers refinement on its own.
func (d *dispatcher) coverageScore(ctx context.Context, query string, refs []*Reference) float64 {
	var sb strings.Builder
	for i, r := range refs {
		if i >= 8 {
			break
		}
		fmt.Fprintf(&sb, "Passage %d: %s\n", i+1, trimForLog(r.Content, 400))
	}

	resp, err := d.judge.Generate(ctx, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, d.cfg.CoveragePrompt),
			message.NewMessage(message.RoleUser, fmt.Sprintf("Query: %s\n\n%s", query, sb.String())),
		},
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return 1
	}
	parsed, err := decodeJSON[struct {
		Score float64 `json:"score"`
	}](resp.Message.Text())
	if err != nil || parsed.Score < 0 || parsed.Score > 1 {
		return 1
	}
	return parsed.Score
}

// authorityScore is the mean rerank score normalized to 0..1. Rerank scores
// range 0..4; plain search scores are used as-is when no reranker ran.
func authorityScore(refs []*Reference) float64 {
	if len(refs) == 0 {
		return 0
	}
	var sum float64
	for _, r := range refs {
		if r.RerankScore > 0 {
			sum += float64(r.RerankScore) / 4
		} else {
			sum += float64(r.Score)
		}
	}
	mean := sum / float64(len(refs))
	if mean > 1 {
		mean = 1
	}
	return mean
}

func (d *dispatcher) reformulate(ctx context.Context, original string, tried []string) string {
	prompt := fmt.Sprintf("Original question: %s\nQueries already tried:\n- %s",
		original, strings.Join(tried, "\n- "))
	resp, err := d.judge.Generate(ctx, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, d.cfg.ReformulatePrompt),
			message.NewMessage(message.RoleUser, prompt),
		},
		Temperature: 0.7,
		JSONOnly:    true,
	})
	if err != nil {
		return ""
	}
	parsed, err := decodeJSON[struct {
		Query string `json:"query"`
	}](resp.Message.Text())
	if err != nil {
		return ""
	}
	return truncateRunes(strings.TrimSpace(parsed.Query), d.cfg.MaxQueryLen)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

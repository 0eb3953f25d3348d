package orchestrator

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/grounded/config"
)

// IndexWeight names one search index in a federated search and the weight
// multiplied into its result scores.
type IndexWeight struct {
	Name   string
	Weight float32
}

// Config controls the turn pipeline: retrieval strategy toggles, quality
// thresholds, retry bounds, context budget caps and prompts live in one
// struct so callers can construct reproducible pipelines.
type Config struct {
	Name  string // Logical name for tracing/logging
	Model string // Completion model name, also drives token counting

	TopK         int // Default document count per retrieval step
	MinDocuments int // Below this the step falls back to direct search
	MaxQueryLen  int // Planner queries are truncated to this many runes

	MaxCriticRetries  int     // Revise cycles after the first generation
	CoverageThreshold float64 // Below this the critic verdict is forced to revise

	EnableAdaptive             bool
	AdaptiveMaxAttempts        int     // Reformulation budget per turn
	AdaptiveCoverageThreshold  float64
	AdaptiveDiversityThreshold float64

	EnableDecomposition bool
	ComplexityThreshold float64 // LLM complexity score that triggers decomposition
	MaxSubQueries       int

	EnableLazy                 bool
	LazyPrefetch               int     // Summaries fetched ahead of the requested top
	MaxHydrations              int     // Full-document loads between critic iterations
	HydrationCoverageThreshold float64 // Coverage below this triggers hydration

	Federation          []IndexWeight // Empty means single-index search
	FusionK             int           // RRF rank constant
	SemanticBoostWeight float64       // 0 disables the similarity blend

	HistoryTokenCap  int
	SummaryTokenCap  int
	SalienceTokenCap int
	MaxSummaryItems  int // Summary bullets the selector may keep

	WebResultCount int

	StreamMinWindow int // Buffered runes before citation validation engages

	SalienceMaxAgeTurns int

	PlannerPrompt     string
	SynthesisPrompt   string
	CriticPrompt      string
	CoveragePrompt    string
	ReformulatePrompt string
	ComplexityPrompt  string
	DecomposePrompt   string

	NoEvidenceMessage string // Fixed answer when retrieval found nothing
	RefusalMessage    string // Fixed answer when the final quality gate fails
	RejectionMessage  string // Fixed answer on citation-integrity violation
}

// Option customises the pipeline configuration.
type Option func(*Config)

// WithName sets the logical pipeline name used in logs and traces.
func WithName(name string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(name) != "" {
			cfg.Name = name
		}
	}
}

// WithModel sets the completion model name; token budgeting uses the same
// name to pick an encoder.
func WithModel(model string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(model) != "" {
			cfg.Model = model
		}
	}
}

// WithTopK sets the default number of documents per retrieval step.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithMinDocuments sets the document count below which a primary strategy is
// considered insufficient and falls back.
func WithMinDocuments(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MinDocuments = n
		}
	}
}

// WithCriticRetries bounds the revise cycles after the first generation, so
// the loop runs at most n+1 generations.
func WithCriticRetries(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MaxCriticRetries = n
		}
	}
}

// WithCoverageThreshold sets the coverage score below which revision is
// forced regardless of the critic's own verdict.
func WithCoverageThreshold(t float64) Option {
	return func(cfg *Config) {
		if t >= 0 && t <= 1 {
			cfg.CoverageThreshold = t
		}
	}
}

// WithAdaptive toggles adaptive reformulation on low result quality.
func WithAdaptive(enabled bool) Option {
	return func(cfg *Config) {
		cfg.EnableAdaptive = enabled
	}
}

// WithAdaptiveAttempts bounds adaptive reformulations per turn.
func WithAdaptiveAttempts(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.AdaptiveMaxAttempts = n
		}
	}
}

// WithDecomposition toggles complexity-driven sub-query decomposition.
func WithDecomposition(enabled bool) Option {
	return func(cfg *Config) {
		cfg.EnableDecomposition = enabled
	}
}

// WithComplexityThreshold sets the complexity score that triggers
// decomposition.
func WithComplexityThreshold(t float64) Option {
	return func(cfg *Config) {
		if t >= 0 && t <= 1 {
			cfg.ComplexityThreshold = t
		}
	}
}

// WithLazy toggles summary-first retrieval with deferred hydration.
func WithLazy(enabled bool) Option {
	return func(cfg *Config) {
		cfg.EnableLazy = enabled
	}
}

// WithLazyPrefetch sets how many summaries are fetched ahead of the
// requested top.
func WithLazyPrefetch(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.LazyPrefetch = n
		}
	}
}

// WithFederation spreads retrieval across the named indexes with per-index
// score weights.
func WithFederation(indexes ...IndexWeight) Option {
	return func(cfg *Config) {
		cfg.Federation = indexes
	}
}

// WithFusionK overrides the RRF rank constant.
func WithFusionK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.FusionK = k
		}
	}
}

// WithSemanticBoost blends embedding similarity into fused scores with the
// given weight; 0 disables.
func WithSemanticBoost(weight float64) Option {
	return func(cfg *Config) {
		if weight >= 0 && weight <= 1 {
			cfg.SemanticBoostWeight = weight
		}
	}
}

// WithTokenCaps sets the per-section token caps for history, summary and
// salience context. A cap of 0 passes the section through unbounded.
func WithTokenCaps(history, summary, salience int) Option {
	return func(cfg *Config) {
		if history >= 0 {
			cfg.HistoryTokenCap = history
		}
		if summary >= 0 {
			cfg.SummaryTokenCap = summary
		}
		if salience >= 0 {
			cfg.SalienceTokenCap = salience
		}
	}
}

// WithWebResultCount sets how many web hits a web_search step requests.
func WithWebResultCount(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.WebResultCount = n
		}
	}
}

// WithRefusalMessage overrides the fixed final-gate refusal answer.
func WithRefusalMessage(msg string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(msg) != "" {
			cfg.RefusalMessage = msg
		}
	}
}

// WithNoEvidenceMessage overrides the fixed no-evidence answer.
func WithNoEvidenceMessage(msg string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(msg) != "" {
			cfg.NoEvidenceMessage = msg
		}
	}
}

// WithPlannerPrompt overrides the planner system prompt.
func WithPlannerPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.PlannerPrompt = prompt
		}
	}
}

// WithSynthesisPrompt overrides the writer system prompt.
func WithSynthesisPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.SynthesisPrompt = prompt
		}
	}
}

// WithCriticPrompt overrides the critic system prompt.
func WithCriticPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.CriticPrompt = prompt
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Name:  "grounded-turn",
		Model: "gpt-4o-mini",

		TopK:         6,
		MinDocuments: 1,
		MaxQueryLen:  512,

		MaxCriticRetries:  2,
		CoverageThreshold: 0.6,

		AdaptiveMaxAttempts:        3,
		AdaptiveCoverageThreshold:  0.5,
		AdaptiveDiversityThreshold: 0.3,

		ComplexityThreshold: 0.55,
		MaxSubQueries:       5,

		LazyPrefetch:               10,
		MaxHydrations:              2,
		HydrationCoverageThreshold: 0.7,

		FusionK: 60,

		HistoryTokenCap:  2000,
		SummaryTokenCap:  600,
		SalienceTokenCap: 400,
		MaxSummaryItems:  8,

		WebResultCount: 5,

		StreamMinWindow: 80,

		SalienceMaxAgeTurns: 20,

		PlannerPrompt: `You plan retrieval for a grounded question-answering system. Decide which searches collect the evidence needed to answer the user question. Output compact JSON only matching {"confidence":0.0,"steps":[{"action":"vector_search|web_search|both|answer","query":"...","k":6}]}.
Rules:
- "confidence" (0..1) is how sure you are the plan suffices.
- Use "vector_search" for knowledge-base lookups, "web_search" for fresh or public information, "both" when either could help, "answer" only when no retrieval is needed (greetings, meta questions).
- Keep queries short and concrete; include entities and qualifiers from the question and conversation context.
- Emit at most 4 steps and never invent placeholder queries.`,

		SynthesisPrompt: `You are the staff writer for a grounded question-answering system. Using only the numbered sources below, write a precise answer to the user question.
Guidelines:
1. Attribute every factual statement with [n] citations matching the source numbers, placed at the end of the supporting sentence or clause.
2. Never cite a number that does not appear in the source list, and never invent facts beyond the sources.
3. Organise longer answers into short sections; note explicitly when the sources only partially cover the question.
4. Respond in the user's language.`,

		CriticPrompt: `You are the quality critic for a grounded question-answering system. Judge whether the draft answer is grounded in the supplied sources and covers the question.
Return JSON only: {"grounded":true|false,"coverage":0.0,"issues":["..."],"action":"accept|revise"}.
Rules:
- "grounded" is false when any claim lacks support in the sources or any [n] citation mismatches its source.
- "coverage" (0..1) is the fraction of the question's aspects the draft answers from the sources.
- List concrete problems in "issues"; keep them actionable for a rewrite.
- "action" is accept only when the draft is grounded and coverage is high.`,

		CoveragePrompt: `Rate how well the retrieved passages address the query. Return JSON only: {"score":0.0} where score (0..1) is the fraction of the query's aspects the passages cover.`,

		ReformulatePrompt: `The previous search query returned weak results. Rewrite it to retrieve better evidence: use different vocabulary, add concrete entities or constraints, and keep it under 18 words. Return JSON only: {"query":"..."}.`,

		ComplexityPrompt: `Rate the complexity of answering this question in one retrieval pass. Return JSON only: {"score":0.0} where 0 is a simple lookup and 1 requires multiple dependent sub-questions.`,

		DecomposePrompt: `Decompose the question into retrieval sub-queries forming a dependency graph. Return JSON only: {"subqueries":[{"id":"sq-1","query":"...","depends_on":[]}]}.
Rules:
- Each sub-query is independently searchable; "depends_on" lists ids whose results the sub-query builds on.
- The graph must be acyclic; emit between 2 and 5 sub-queries.`,

		NoEvidenceMessage: "I could not find grounded evidence for this question in the available sources.",
		RefusalMessage:    "I cannot provide a reliably grounded answer to this question from the available sources.",
		RejectionMessage:  "The generated answer cited sources that do not exist and was discarded.",
	}
}

func applyOptions(cfg *Config, opts []Option) *Config {
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// validate checks the bounds a turn relies on. Option setters guard their
// own inputs; this catches hand-built configs and unguarded fields like
// the federation index list.
func (c *Config) validate() error {
	v := config.NewValidator().
		RequireNonEmpty("model", c.Model).
		RequirePositive("top_k", c.TopK).
		RequireNonNegative("min_documents", c.MinDocuments).
		RequireNonNegative("max_critic_retries", c.MaxCriticRetries).
		ValidateFloatRange("coverage_threshold", c.CoverageThreshold, 0, 1).
		ValidateFloatRange("hydration_coverage_threshold", c.HydrationCoverageThreshold, 0, 1).
		ValidateFloatRange("adaptive_coverage_threshold", c.AdaptiveCoverageThreshold, 0, 1).
		ValidateFloatRange("adaptive_diversity_threshold", c.AdaptiveDiversityThreshold, 0, 1).
		ValidateFloatRange("complexity_threshold", c.ComplexityThreshold, 0, 1).
		RequirePositive("adaptive_max_attempts", c.AdaptiveMaxAttempts).
		RequirePositive("max_sub_queries", c.MaxSubQueries).
		RequirePositive("fusion_k", c.FusionK).
		RequirePositive("stream_min_window", c.StreamMinWindow)
	for i, idx := range c.Federation {
		v.RequireNonEmpty(fmt.Sprintf("federation[%d].name", i), strings.TrimSpace(idx.Name))
		v.ValidateFloatRange(fmt.Sprintf("federation[%d].weight", i), float64(idx.Weight), 0, 1)
	}
	return v.Error()
}

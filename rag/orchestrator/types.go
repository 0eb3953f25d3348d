package orchestrator

import (
	"context"
	"sync"

	"github.com/sweetpotato0/grounded/memory"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/rag/citation"
	"github.com/sweetpotato0/grounded/search"
	"github.com/sweetpotato0/grounded/websearch"
)

// StepAction enumerates what a plan step asks for.
type StepAction string

const (
	ActionVectorSearch StepAction = "vector_search"
	ActionWebSearch    StepAction = "web_search"
	ActionBoth         StepAction = "both"
	ActionAnswer       StepAction = "answer"
)

// PlanStep is one ordered task in the retrieval plan.
type PlanStep struct {
	Action StepAction `json:"action"`
	Query  string     `json:"query,omitempty"`
	K      int        `json:"k,omitempty"`
}

// Plan is the structured retrieval plan for a turn. It is produced once by
// the planner and immutable afterwards.
type Plan struct {
	Confidence float64    `json:"confidence"`
	Steps      []PlanStep `json:"steps"`
}

// RequestsRetrieval reports whether any step performs retrieval.
func (p *Plan) RequestsRetrieval() bool {
	for _, s := range p.Steps {
		switch s.Action {
		case ActionVectorSearch, ActionWebSearch, ActionBoth:
			return true
		}
	}
	return false
}

// AnswersDirectly reports whether the plan intends to answer without
// retrieval.
func (p *Plan) AnswersDirectly() bool {
	for _, s := range p.Steps {
		if s.Action == ActionAnswer {
			return true
		}
	}
	return false
}

// Reference is one retrieved unit of evidence, alive for the turn. A lazy
// reference holds summary-only content until Hydrate fetches the full text.
type Reference struct {
	search.Result

	Lazy bool

	loadOnce sync.Once
	loader   func(ctx context.Context) (search.Result, error)
	loadErr  error
}

// Hydrate loads the full content of a lazy reference. The loader runs at
// most once; the loaded content is cached for the rest of the turn.
func (r *Reference) Hydrate(ctx context.Context) error {
	if !r.Lazy || r.loader == nil {
		return nil
	}
	r.loadOnce.Do(func() {
		full, err := r.loader(ctx)
		if err != nil {
			r.loadErr = err
			return
		}
		r.Result.Content = full.Content
		r.Result.PageNumber = full.PageNumber
		if full.Title != "" {
			r.Result.Title = full.Title
		}
		r.Lazy = false
	})
	return r.loadErr
}

// CriticReport is the critic's verdict for one loop iteration.
type CriticReport struct {
	Grounded bool     `json:"grounded"`
	Coverage float64  `json:"coverage"`
	Issues   []string `json:"issues,omitempty"`
	Action   string   `json:"action"` // accept | revise

	// Forced is set when thresholds overrode the critic's own action. The
	// override keys off the critic's self-reported coverage, so it adds no
	// grounding guarantee beyond what the critic computed; it only stops a
	// critic from accepting an answer its own numbers contradict.
	Forced bool `json:"forced,omitempty"`
}

// Diagnostics aggregates per-turn retrieval facts. Written once when
// dispatch completes, then read-only.
type Diagnostics struct {
	Mode           string   `json:"mode"`
	DocumentCount  int      `json:"document_count"`
	WebResultCount int      `json:"web_result_count"`
	TopScore       float32  `json:"top_score"`
	MeanScore      float32  `json:"mean_score"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	Escalated      bool     `json:"escalated,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
	Reformulations []string `json:"reformulations,omitempty"`
	SubQueries     int      `json:"sub_queries,omitempty"`
}

// TurnInput is one user turn handed to the pipeline.
type TurnInput struct {
	SessionID string
	Question  string
	History   []*message.Message
	Stream    bool

	// Salience carries durable facts the caller noticed this turn. They are
	// merged into session memory at end-of-turn commit, deduplicated by
	// exact fact text.
	Salience []memory.SalienceNote
}

// Response is the pipeline's output for a turn.
type Response struct {
	Question    string             `json:"question"`
	Answer      string             `json:"answer"`
	Plan        *Plan              `json:"plan,omitempty"`
	Citations   []citation.Entry   `json:"citations,omitempty"`
	References  []*Reference       `json:"references,omitempty"`
	WebResults  []websearch.Result `json:"web_results,omitempty"`
	FinalCritic *CriticReport      `json:"final_critic,omitempty"`
	Diagnostics Diagnostics        `json:"diagnostics"`
	ResponseID  string             `json:"response_id,omitempty"`
	Reasoning   []string           `json:"reasoning,omitempty"`
	Refused     bool               `json:"refused,omitempty"`
}

// dispatchResult is what retrieval hands to the answer loop.
type dispatchResult struct {
	References []*Reference
	WebResults []websearch.Result
	Enum       citation.Enumeration
	Diag       Diagnostics
}

// hasEvidence reports whether anything was retrieved at all.
func (d *dispatchResult) hasEvidence() bool {
	return len(d.References) > 0 || len(d.WebResults) > 0
}

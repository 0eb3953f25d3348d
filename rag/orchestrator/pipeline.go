// Package orchestrator runs the grounded answer turn: plan retrieval,
// dispatch it through the configured strategy, then generate with a bounded
// critique loop and citation enforcement.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/memory"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/pkg/telemetry"
	"github.com/sweetpotato0/grounded/rag/budget"
	"github.com/sweetpotato0/grounded/rag/citation"
	"github.com/sweetpotato0/grounded/rag/selector"
	"github.com/sweetpotato0/grounded/search"
	"github.com/sweetpotato0/grounded/vector"
	"github.com/sweetpotato0/grounded/websearch"
)

// Deps wires the pipeline's collaborators. Search and the planner/writer
// clients are required; everything else degrades gracefully when absent.
type Deps struct {
	Clients  Clients
	Search   search.Service
	Agent    search.KnowledgeAgent
	Web      websearch.Searcher
	Embedder vector.Embedder
	Sessions memory.SessionStore
	Semantic memory.SemanticStore
	Emitter  Emitter
}

// Pipeline executes turns. Safe for concurrent use; all per-turn state lives
// on the stack of Run.
type Pipeline struct {
	cfg      *Config
	clients  Clients
	disp     *dispatcher
	loop     *answerLoop
	synth    *synthesizer
	planner  *planner
	sessions memory.SessionStore
	semantic memory.SemanticStore
	embedder vector.Embedder
	budgeter *budget.Budgeter
	selector *selector.Selector
	emit     Emitter
	tracer   trace.Tracer
}

// New builds a pipeline from its dependencies and options.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	if deps.Search == nil {
		return nil, fmt.Errorf("%w: search service is required", grounderr.ErrInvalidInput)
	}
	if err := deps.Clients.validate(); err != nil {
		return nil, err
	}

	cfg := applyOptions(defaultConfig(), opts)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", grounderr.ErrInvalidInput, err)
	}
	emit := deps.Emitter
	if emit == nil {
		emit = NopEmitter
	}

	synth := &synthesizer{client: deps.Clients.writer(), cfg: cfg, emit: emit}
	p := &Pipeline{
		cfg:     cfg,
		clients: deps.Clients,
		disp: &dispatcher{
			cfg:      cfg,
			service:  deps.Search,
			agent:    deps.Agent,
			web:      deps.Web,
			embedder: deps.Embedder,
			judge:    deps.Clients.judge(),
			emit:     emit,
		},
		synth: synth,
		loop: &answerLoop{
			synth: synth,
			crit:  &critic{client: deps.Clients.critic(), cfg: cfg},
			cfg:   cfg,
			emit:  emit,
		},
		planner:  &planner{client: deps.Clients.planner(), cfg: cfg},
		sessions: deps.Sessions,
		semantic: deps.Semantic,
		embedder: deps.Embedder,
		budgeter: budget.New(cfg.Model),
		selector: selector.New(deps.Embedder),
		emit:     emit,
		tracer:   telemetry.Tracer("grounded/orchestrator"),
	}
	return p, nil
}

// Run executes one turn.
func (p *Pipeline) Run(ctx context.Context, input TurnInput) (_ *Response, err error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", grounderr.ErrInvalidInput)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline.name", p.cfg.Name),
			attribute.String("session.id", input.SessionID),
		))
	defer func() { telemetry.End(span, err) }()

	log := logging.WithComponent("pipeline")
	started := time.Now()
	p.emit.Emit(Event{Type: EventStatus, Payload: map[string]any{"status": "started"}})
	if sc := span.SpanContext(); sc.HasTraceID() {
		p.emit.Emit(Event{Type: EventTrace, Payload: map[string]any{"trace_id": sc.TraceID().String()}})
	}

	state := p.loadSession(ctx, input.SessionID)
	contextBlock, contextPayload := p.assembleContext(ctx, question, input.History, state)

	plan := p.planner.plan(ctx, question, contextBlock)
	route := "retrieval"
	if !plan.RequestsRetrieval() {
		route = "direct"
	}
	p.emit.Emit(Event{Type: EventRoute, Payload: map[string]any{"route": route}})
	p.emit.Emit(Event{Type: EventContext, Payload: contextPayload})
	p.emit.Emit(Event{Type: EventPlan, Payload: map[string]any{
		"confidence": plan.Confidence,
		"steps":      plan.Steps,
	}})

	resp := &Response{Question: question, Plan: plan}

	if route == "direct" {
		if err := p.answerDirect(ctx, question, contextBlock, input.Stream, resp); err != nil {
			return nil, err
		}
	} else {
		dispatched, err := p.disp.dispatch(ctx, question, plan)
		if err != nil {
			return nil, err
		}
		resp.References = dispatched.References
		resp.WebResults = dispatched.WebResults
		resp.Citations = dispatched.Enum.Entries()
		resp.Diagnostics = dispatched.Diag

		if !dispatched.hasEvidence() {
			// No evidence means nothing to ground an answer in, so the
			// critic never runs for this turn.
			if resp.Diagnostics.FallbackReason == "" {
				resp.Diagnostics.FallbackReason = "insufficient_documents"
			}
			resp.Answer = p.cfg.NoEvidenceMessage
			log.Info("no evidence retrieved", "question", trimForLog(question, 80))
		} else if err := p.answerGrounded(ctx, question, contextBlock, input.Stream, dispatched, resp); err != nil {
			return nil, err
		}
	}

	p.emit.Emit(Event{Type: EventComplete, Payload: map[string]any{
		"refused":  resp.Refused,
		"duration": time.Since(started).String(),
	}})
	p.emit.Emit(Event{Type: EventTelemetry, Payload: map[string]any{
		"diagnostics": resp.Diagnostics,
	}})

	p.commitMemory(ctx, input, question, resp, state)
	p.emit.Emit(Event{Type: EventDone})
	return resp, nil
}

// answerDirect handles turns the plan decided need no retrieval. There are
// no sources, so any citation the writer invents is a violation.
func (p *Pipeline) answerDirect(ctx context.Context, question, contextBlock string, stream bool, resp *Response) error {
	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, p.cfg.SynthesisPrompt),
		message.NewMessage(message.RoleUser, renderDirectPrompt(question, contextBlock)),
	}
	composed, err := p.synth.compose(ctx, msgs, citation.Build(nil), stream, "")
	if err != nil {
		return err
	}
	resp.Diagnostics.Mode = "direct_answer"
	resp.ResponseID = composed.ResponseID
	resp.Reasoning = composed.Reasoning
	if composed.Rejected {
		resp.Answer = p.cfg.RejectionMessage
		return nil
	}
	resp.Answer = composed.Text
	return nil
}

func (p *Pipeline) answerGrounded(ctx context.Context, question, contextBlock string, stream bool, dispatched *dispatchResult, resp *Response) error {
	result, err := p.loop.run(ctx, question, contextBlock, dispatched, stream)
	if err != nil {
		return err
	}
	resp.ResponseID = result.ResponseID
	resp.Reasoning = result.Reasoning
	resp.FinalCritic = result.Critic

	switch {
	case result.Rejected:
		resp.Answer = p.cfg.RejectionMessage
		p.emit.Emit(Event{Type: EventWarning, Payload: map[string]any{
			"warning": "citation_violation",
		}})
	case result.Critic != nil && (!result.Critic.Grounded || result.Critic.Coverage < p.cfg.CoverageThreshold):
		// The final gate: a draft the critic still considers ungrounded or
		// below the coverage threshold after all retries is withheld, not
		// shipped with a caveat.
		resp.Answer = p.cfg.RefusalMessage
		resp.Refused = true
	default:
		resp.Answer = result.Answer
	}
	return nil
}

func (p *Pipeline) loadSession(ctx context.Context, sessionID string) *memory.SessionState {
	if p.sessions == nil || sessionID == "" {
		return &memory.SessionState{}
	}
	state, err := p.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		logging.WithComponent("pipeline").Warn("session load failed, starting fresh",
			"session_id", sessionID, "error", err)
		return &memory.SessionState{}
	}
	if state == nil {
		return &memory.SessionState{}
	}
	return state
}

// assembleContext builds the token-budgeted context block: recent history,
// selected summary bullets, salience notes and long-term recalls, each
// trimmed to its own cap. The returned payload is emitted by Run once the
// route is known, keeping the event order stable.
func (p *Pipeline) assembleContext(ctx context.Context, question string, history []*message.Message, state *memory.SessionState) (string, map[string]any) {
	bullets, stats := p.selector.Select(ctx, question, state.Summary, p.cfg.MaxSummaryItems)

	sections := []budget.Section{
		{Name: "history", Text: renderHistory(history), Cap: p.cfg.HistoryTokenCap},
		{Name: "summary", Text: renderBullets(bullets), Cap: p.cfg.SummaryTokenCap},
		{Name: "salience", Text: renderNotes(state.Salience), Cap: p.cfg.SalienceTokenCap},
		{Name: "memory", Text: p.recallLongTerm(ctx, question), Cap: p.cfg.SalienceTokenCap},
	}
	sections = p.budgeter.FitSections(sections)

	var sb strings.Builder
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\n", s.Name, s.Text)
	}
	block := strings.TrimSpace(sb.String())

	payload := map[string]any{
		"selector_mode":   string(stats.Mode),
		"summary_kept":    stats.SelectedCount,
		"fallback_reason": stats.FallbackReason,
		"tokens":          p.budgeter.CountTokens(block),
	}
	return block, payload
}

// recallLongTerm pulls similar entries from the semantic store. Failures
// just mean less context.
func (p *Pipeline) recallLongTerm(ctx context.Context, question string) string {
	if p.semantic == nil || p.embedder == nil {
		return ""
	}
	vec, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return ""
	}
	recalls, err := p.semantic.Recall(ctx, vec, 3)
	if err != nil || len(recalls) == 0 {
		return ""
	}
	lines := make([]string, 0, len(recalls))
	for _, r := range recalls {
		lines = append(lines, "- "+r.Text)
	}
	return strings.Join(lines, "\n")
}

// commitMemory is the end-of-turn write: session memory mutates only here.
func (p *Pipeline) commitMemory(ctx context.Context, input TurnInput, question string, resp *Response, state *memory.SessionState) {
	if p.sessions == nil || input.SessionID == "" {
		return
	}
	log := logging.WithComponent("pipeline")

	state.Turn++
	bullet := fmt.Sprintf("Q: %s / A: %s", trimForLog(question, 120), trimForLog(resp.Answer, 200))
	state.Summary = memory.MergeBullets(state.Summary, []memory.SummaryBullet{{Text: bullet}})
	state.Salience = memory.MergeNotes(state.Salience, input.Salience, state.Turn)
	state.Salience = memory.PruneNotes(state.Salience, state.Turn, p.cfg.SalienceMaxAgeTurns)

	if err := p.sessions.SaveSession(ctx, input.SessionID, state); err != nil {
		log.Warn("session save failed", "session_id", input.SessionID, "error", err)
	}

	if p.semantic == nil || p.embedder == nil || resp.Refused || resp.Answer == p.cfg.RejectionMessage {
		return
	}
	vec, err := p.embedder.Embed(ctx, bullet)
	if err != nil {
		log.Warn("memory embedding failed", "error", err)
		return
	}
	now := time.Now()
	err = p.semantic.Add(ctx, &memory.SemanticMemory{
		ID:             memory.GenerateID(),
		Text:           bullet,
		Type:           "turn",
		Embedding:      vec,
		SessionID:      input.SessionID,
		CreatedAt:      now,
		LastAccessedAt: now,
	})
	if err != nil {
		log.Warn("semantic memory write failed", "error", err)
	}
}

func renderDirectPrompt(question, contextBlock string) string {
	if contextBlock == "" {
		return fmt.Sprintf("Question: %s\n\nThere are no sources for this turn; answer briefly from the conversation alone and cite nothing.", question)
	}
	return fmt.Sprintf("Conversation context:\n%s\n\nQuestion: %s\n\nThere are no sources for this turn; answer briefly from the conversation alone and cite nothing.", contextBlock, question)
}

func renderHistory(history []*message.Message) string {
	var sb strings.Builder
	for _, m := range history {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, text)
	}
	return strings.TrimSpace(sb.String())
}

func renderBullets(bullets []memory.SummaryBullet) string {
	lines := make([]string, 0, len(bullets))
	for _, b := range bullets {
		lines = append(lines, "- "+b.Text)
	}
	return strings.Join(lines, "\n")
}

func renderNotes(notes []memory.SalienceNote) string {
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		line := "- " + n.Fact
		if n.Topic != "" {
			line += " (" + n.Topic + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

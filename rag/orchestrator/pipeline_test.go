package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/sweetpotato0/grounded/contrib/search/inmemory"
	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/memory"
	"github.com/sweetpotato0/grounded/memory/store"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/search"
)

const planShipping = `{"confidence":0.8,"steps":[{"action":"vector_search","query":"shipping policy timeline","k":2}]}`

func TestPipelineRunProducesCitedAnswer(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Orders ship within 2 business days [1]."}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":0.9,"issues":[],"action":"accept"}`}

	embedder := &keywordEmbedder{}
	index := inmemory.New(embedder)
	if err := index.Upsert(ctx, sampleDocs()...); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	pipe, err := New(Deps{
		Clients:  Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:   index,
		Embedder: embedder,
		Sessions: store.NewInMemorySessionStore(),
	}, WithTopK(2))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{SessionID: "s1", Question: "Tell me the shipping policy timeline."})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	if resp.Plan == nil || len(resp.Plan.Steps) != 1 {
		t.Fatalf("expected plan with 1 step, got %#v", resp.Plan)
	}
	if len(resp.Citations) == 0 || len(resp.References) == 0 {
		t.Fatalf("expected citations and references, got %d/%d", len(resp.Citations), len(resp.References))
	}
	if !strings.Contains(resp.Answer, "[1]") {
		t.Fatalf("expected cited answer, got %q", resp.Answer)
	}
	if resp.FinalCritic == nil || !resp.FinalCritic.accepted() {
		t.Fatalf("expected accepted critic verdict, got %#v", resp.FinalCritic)
	}
	if resp.Refused {
		t.Fatalf("expected no refusal")
	}
}

func TestPipelineCommitsSalienceNotes(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Orders ship within 2 business days [1]."}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":0.9,"issues":[],"action":"accept"}`}
	sessions := store.NewInMemorySessionStore()

	pipe, err := New(Deps{
		Clients:  Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:   &stubSearch{docs: sampleDocs()},
		Sessions: sessions,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	note := memory.SalienceNote{Fact: "customer is on the enterprise plan", Topic: "account"}
	if _, err := pipe.Run(ctx, TurnInput{
		SessionID: "s1",
		Question:  "Shipping policy?",
		Salience:  []memory.SalienceNote{note},
	}); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	state, err := sessions.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSession error: %v", err)
	}
	if len(state.Salience) != 1 || state.Salience[0].Fact != note.Fact {
		t.Fatalf("expected the note committed, got %#v", state.Salience)
	}
	if state.Salience[0].LastSeenTurn != 1 {
		t.Fatalf("expected LastSeenTurn stamped to 1, got %d", state.Salience[0].LastSeenTurn)
	}

	// Repeating the fact on the next turn bumps the stamp, no duplicate.
	if _, err := pipe.Run(ctx, TurnInput{
		SessionID: "s1",
		Question:  "And returns?",
		Salience:  []memory.SalienceNote{note},
	}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	state, err = sessions.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSession error: %v", err)
	}
	if len(state.Salience) != 1 || state.Salience[0].LastSeenTurn != 2 {
		t.Fatalf("expected one note at turn 2, got %#v", state.Salience)
	}
}

func TestPipelineNoEvidenceSkipsCriticAndWriter(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "must never be returned"}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":1,"action":"accept"}`}
	empty := &stubSearch{}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  empty,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "What is the escalation process?"})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if resp.Answer != defaultConfig().NoEvidenceMessage {
		t.Fatalf("expected the fixed no-evidence answer, got %q", resp.Answer)
	}
	if resp.Diagnostics.FallbackReason != "insufficient_documents" {
		t.Fatalf("expected insufficient_documents, got %q", resp.Diagnostics.FallbackReason)
	}
	if writerLLM.calls != 0 {
		t.Fatalf("expected writer skipped, got %d calls", writerLLM.calls)
	}
	if criticLLM.calls != 0 {
		t.Fatalf("expected critic skipped without evidence, got %d calls", criticLLM.calls)
	}
}

func TestPipelineBoundedCriticRetries(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Partial answer [1]."}
	// grounded and covered, but the critic keeps asking for another pass
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":0.8,"issues":["misses the return window"],"action":"revise"}`}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  &stubSearch{docs: sampleDocs()},
	}, WithCriticRetries(2))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "Shipping and returns?"})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if writerLLM.calls != 3 {
		t.Fatalf("expected exactly 3 generations for 2 retries, got %d", writerLLM.calls)
	}
	if criticLLM.calls != 3 {
		t.Fatalf("expected the critic to judge every draft, got %d calls", criticLLM.calls)
	}
	if !strings.Contains(resp.Answer, "did not pass the full quality review") {
		t.Fatalf("expected a visible quality note, got %q", resp.Answer)
	}
	if !strings.Contains(resp.Answer, "misses the return window") {
		t.Fatalf("expected open issues listed, got %q", resp.Answer)
	}
	if resp.Refused {
		t.Fatalf("a grounded, covered answer ships with a note, not a refusal")
	}
}

func TestPipelineFinalGateRefusesLowCoverage(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Partial answer [1]."}
	// grounded but far below the coverage threshold on every round
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":0.2,"issues":["misses the return window"],"action":"revise"}`}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  &stubSearch{docs: sampleDocs()},
	}, WithCriticRetries(2))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "Shipping and returns?"})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if !resp.Refused {
		t.Fatal("expected refusal when coverage stays below threshold")
	}
	if resp.Answer != defaultConfig().RefusalMessage {
		t.Fatalf("expected the fixed refusal message, got %q", resp.Answer)
	}
	if resp.FinalCritic == nil || resp.FinalCritic.Coverage != 0.2 {
		t.Fatalf("expected the retained critic report, got %#v", resp.FinalCritic)
	}
}

func TestPipelineFinalGateRefusesUngrounded(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Confident fabrication [1]."}
	criticLLM := &stubLLM{response: `{"grounded":false,"coverage":0.9,"issues":["claim not in sources"],"action":"revise"}`}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  &stubSearch{docs: sampleDocs()},
	}, WithCriticRetries(1))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "Shipping?"})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if !resp.Refused {
		t.Fatalf("expected refusal for an answer still ungrounded after retries")
	}
	if resp.Answer != defaultConfig().RefusalMessage {
		t.Fatalf("expected the fixed refusal answer, got %q", resp.Answer)
	}
}

func TestPipelineRejectsFabricatedCitation(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Bold claim from nowhere [9]."}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":1,"action":"accept"}`}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  &stubSearch{docs: sampleDocs()},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "Shipping?"})
	if err != nil {
		t.Fatalf("a citation violation ends the turn cleanly, got error: %v", err)
	}
	if resp.Answer != defaultConfig().RejectionMessage {
		t.Fatalf("expected the fixed rejection answer, got %q", resp.Answer)
	}
	if criticLLM.calls != 0 {
		t.Fatalf("expected no critic run for a rejected draft, got %d calls", criticLLM.calls)
	}
}

func TestPipelineDirectRouteSkipsRetrieval(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: `{"confidence":0.9,"steps":[{"action":"answer"}]}`}
	writerLLM := &stubLLM{response: "Hello! How can I help?"}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":1,"action":"accept"}`}
	svc := &stubSearch{docs: sampleDocs()}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  svc,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "hi there"})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if svc.calls != 0 {
		t.Fatalf("expected no retrieval on the direct route, got %d searches", svc.calls)
	}
	if criticLLM.calls != 0 {
		t.Fatalf("expected no critic on the direct route, got %d calls", criticLLM.calls)
	}
	if resp.Diagnostics.Mode != "direct_answer" {
		t.Fatalf("expected direct_answer mode, got %q", resp.Diagnostics.Mode)
	}
	if resp.Answer != "Hello! How can I help?" {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
}

func TestPipelineUnparseablePlanFallsBack(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: "I think we should search for things"}
	writerLLM := &stubLLM{response: "Shipping takes two days [1]."}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":0.9,"action":"accept"}`}

	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  &stubSearch{docs: sampleDocs()},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := pipe.Run(ctx, TurnInput{Question: "shipping timeline"})
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if resp.Plan.Confidence != 0.3 {
		t.Fatalf("expected the low-confidence fallback plan, got %v", resp.Plan.Confidence)
	}
	if resp.Answer == "" || resp.Refused {
		t.Fatalf("fallback planning must still answer, got %#v", resp)
	}
}

func TestPipelineRequiresPlannerAndWriter(t *testing.T) {
	_, err := New(Deps{Search: &stubSearch{}})
	if err == nil {
		t.Fatalf("expected an error without clients")
	}
}

func TestPipelineEventOrder(t *testing.T) {
	ctx := context.Background()

	planLLM := &stubLLM{response: planShipping}
	writerLLM := &stubLLM{response: "Orders ship within 2 business days [1]."}
	criticLLM := &stubLLM{response: `{"grounded":true,"coverage":0.9,"issues":[],"action":"accept"}`}

	var events []Event
	pipe, err := New(Deps{
		Clients: Clients{Planner: planLLM, Writer: writerLLM, Critic: criticLLM},
		Search:  &stubSearch{docs: sampleDocs()},
		Emitter: collectEmitter(&events),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := pipe.Run(ctx, TurnInput{Question: "Shipping policy?"}); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	pos := func(typ EventType) int {
		for i, ev := range events {
			if ev.Type == typ {
				return i
			}
		}
		t.Fatalf("event %q never emitted", typ)
		return -1
	}
	status, route, contextEv, plan := pos(EventStatus), pos(EventRoute), pos(EventContext), pos(EventPlan)
	if !(status < route && route < contextEv && contextEv < plan) {
		t.Fatalf("expected status < route < context < plan, got %d/%d/%d/%d",
			status, route, contextEv, plan)
	}
	if done := pos(EventDone); done != len(events)-1 {
		t.Fatalf("expected done last, got index %d of %d", done, len(events))
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Deps{
		Clients: Clients{Default: &stubLLM{response: "{}"}},
		Search:  &stubSearch{},
	}, WithFederation(IndexWeight{Name: "", Weight: 2}))
	if err == nil {
		t.Fatal("expected an error for an unnamed, over-weighted federation index")
	}
	if !strings.Contains(err.Error(), "federation[0]") {
		t.Fatalf("expected the offending field named, got %v", err)
	}
}

func sampleDocs() []search.Result {
	return []search.Result{
		{ID: "shipping-policy", Title: "Shipping Policy", Content: "Orders ship within 2 business days. Expedited shipping delivers in 48 hours.", Score: 0.9},
		{ID: "return-policy", Title: "Return Policy", Content: "Customers have 30 days to return items.", Score: 0.7},
	}
}

type stubLLM struct {
	mu        sync.Mutex
	response  string
	responses []string // consumed in order when set, last repeats
	calls     int
}

func (s *stubLLM) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	text := s.response
	if len(s.responses) > 0 {
		idx := s.calls - 1
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		text = s.responses[idx]
	}
	return &llm.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, text)}, nil
}

type stubSearch struct {
	mu    sync.Mutex
	docs  []search.Result
	calls int
}

func (s *stubSearch) Search(ctx context.Context, query string, opts search.Options) (*search.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	results := s.docs
	if opts.Top > 0 && opts.Top < len(results) {
		results = results[:opts.Top]
	}
	return &search.Results{Results: results, Count: len(results)}, nil
}

type keywordEmbedder struct{}

var keywordSpace = []string{"shipping", "policy", "return", "timeline"}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(keywordSpace))
	lower := strings.ToLower(text)
	for idx, kw := range keywordSpace {
		if strings.Contains(lower, kw) {
			vec[idx] = 1
		}
	}
	return vec, nil
}

func (k *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := k.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (k *keywordEmbedder) Dimension() int { return len(keywordSpace) }

package orchestrator

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/rag/citation"
)

type stubStream struct {
	stubLLM
	events    []llm.Event
	cancelled bool
}

func (s *stubStream) GenerateStream(ctx context.Context, req *llm.GenerateRequest) (llm.StreamReader, error) {
	return &stubStreamReader{owner: s}, nil
}

type stubStreamReader struct {
	owner *stubStream
	pos   int
}

func (r *stubStreamReader) Next() (llm.Event, error) {
	if r.owner.cancelled || r.pos >= len(r.owner.events) {
		return llm.Event{}, io.EOF
	}
	ev := r.owner.events[r.pos]
	r.pos++
	return ev, nil
}

func (r *stubStreamReader) Cancel() { r.owner.cancelled = true }

func oneSource() citation.Enumeration {
	return citation.Build([]citation.Entry{
		{Kind: citation.SourceReference, Index: 0, ID: "doc-a", Title: "Doc A"},
	})
}

func collectEmitter(events *[]Event) Emitter {
	return EmitterFunc(func(ev Event) { *events = append(*events, ev) })
}

func TestComposeStreamAssemblesText(t *testing.T) {
	client := &stubStream{events: []llm.Event{
		{Kind: llm.EventResponseID, ResponseID: "resp-1"},
		{Kind: llm.EventDelta, Text: "Orders ship "},
		{Kind: llm.EventDelta, Text: "within two days [1]."},
	}}
	var emitted []Event
	s := &synthesizer{client: client, cfg: defaultConfig(), emit: collectEmitter(&emitted)}

	result, err := s.compose(context.Background(), nil, oneSource(), true, "")
	if err != nil {
		t.Fatalf("compose error: %v", err)
	}
	if result.Rejected {
		t.Fatalf("unexpected rejection")
	}
	if result.Text != "Orders ship within two days [1]." {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.ResponseID != "resp-1" {
		t.Fatalf("expected response id propagated, got %q", result.ResponseID)
	}

	tokens := 0
	for _, ev := range emitted {
		if ev.Type == EventToken {
			tokens++
		}
	}
	if tokens != 2 {
		t.Fatalf("expected one token event per delta, got %d", tokens)
	}
}

func TestComposeStreamCancelsOnCitationViolation(t *testing.T) {
	client := &stubStream{events: []llm.Event{
		{Kind: llm.EventDelta, Text: "This claim has no source [9] "},
		{Kind: llm.EventDelta, Text: "and this text must never be read."},
	}}
	cfg := defaultConfig()
	cfg.StreamMinWindow = 10
	s := &synthesizer{client: client, cfg: cfg, emit: NopEmitter}

	result, err := s.compose(context.Background(), nil, oneSource(), true, "")
	if err != nil {
		t.Fatalf("compose error: %v", err)
	}
	if !result.Rejected {
		t.Fatalf("expected rejection for marker outside the enumeration")
	}
	if !client.cancelled {
		t.Fatalf("expected the stream cancelled on violation")
	}
}

func TestComposeStreamIgnoresCompletedAfterDeltas(t *testing.T) {
	full := "Short answer [1]."
	client := &stubStream{events: []llm.Event{
		{Kind: llm.EventDelta, Text: "Short answer "},
		{Kind: llm.EventDelta, Text: "[1]."},
		{Kind: llm.EventCompleted, Text: full},
	}}
	s := &synthesizer{client: client, cfg: defaultConfig(), emit: NopEmitter}

	result, err := s.compose(context.Background(), nil, oneSource(), true, "")
	if err != nil {
		t.Fatalf("compose error: %v", err)
	}
	if result.Text != full {
		t.Fatalf("expected the completed payload not duplicated, got %q", result.Text)
	}
}

func TestComposeStreamAssemblesReasoningSnippets(t *testing.T) {
	client := &stubStream{events: []llm.Event{
		{Kind: llm.EventReasoning, Reasoning: &llm.ReasoningFragment{ItemID: "it-1", Text: "weighing the "}},
		{Kind: llm.EventReasoning, Reasoning: &llm.ReasoningFragment{ItemID: "it-1", Text: "shipping sources"}},
		{Kind: llm.EventReasoning, Reasoning: &llm.ReasoningFragment{ItemID: "it-2", SummaryIndex: 1, Text: "Weighing the shipping sources"}},
		{Kind: llm.EventDelta, Text: "Answer [1]."},
	}}
	s := &synthesizer{client: client, cfg: defaultConfig(), emit: NopEmitter}

	result, err := s.compose(context.Background(), nil, oneSource(), true, "")
	if err != nil {
		t.Fatalf("compose error: %v", err)
	}
	if len(result.Reasoning) != 1 {
		t.Fatalf("expected duplicate snippets collapsed, got %#v", result.Reasoning)
	}
	if !strings.EqualFold(result.Reasoning[0], "weighing the shipping sources") {
		t.Fatalf("unexpected snippet %q", result.Reasoning[0])
	}
}

func TestComposeFallsBackToBlockingWithoutStreamSupport(t *testing.T) {
	client := &stubLLM{response: "Blocking answer [1]."}
	s := &synthesizer{client: client, cfg: defaultConfig(), emit: NopEmitter}

	result, err := s.compose(context.Background(), nil, oneSource(), true, "")
	if err != nil {
		t.Fatalf("compose error: %v", err)
	}
	if result.Text != "Blocking answer [1]." {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

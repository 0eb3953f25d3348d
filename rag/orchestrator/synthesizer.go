package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/rag/citation"
)

// composeResult is one generation attempt's outcome.
type composeResult struct {
	Text       string
	ResponseID string
	Reasoning  []string
	Rejected   bool // a citation pointed outside the enumeration
}

// synthesizer produces the answer text, streamed when the writer supports it
// and the caller asked for it. Streamed output passes through a citation
// validator; a citation outside the enumeration cancels the stream
// immediately.
type synthesizer struct {
	client llm.Client
	cfg    *Config
	emit   Emitter
}

func (s *synthesizer) compose(ctx context.Context, msgs []*message.Message, enum citation.Enumeration, stream bool, previousID string) (*composeResult, error) {
	req := &llm.GenerateRequest{
		Messages:           msgs,
		Temperature:        0.2,
		PreviousResponseID: previousID,
	}

	if stream {
		if sc, ok := s.client.(llm.StreamClient); ok {
			return s.composeStream(ctx, sc, req, enum)
		}
	}
	return s.composeOnce(ctx, req, enum)
}

func (s *synthesizer) composeOnce(ctx context.Context, req *llm.GenerateRequest, enum citation.Enumeration) (*composeResult, error) {
	resp, err := s.client.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	text := resp.Message.Text()
	if err := enum.Verify(text); err != nil {
		if errors.Is(err, grounderr.ErrCitationViolation) {
			logging.WithComponent("synthesizer").Warn("draft cited unknown source", "error", err)
			return &composeResult{Rejected: true, ResponseID: resp.ResponseID}, nil
		}
		return nil, err
	}
	return &composeResult{Text: text, ResponseID: resp.ResponseID}, nil
}

func (s *synthesizer) composeStream(ctx context.Context, client llm.StreamClient, req *llm.GenerateRequest, enum citation.Enumeration) (*composeResult, error) {
	log := logging.WithComponent("synthesizer")

	reader, err := client.GenerateStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start answer stream: %w", err)
	}
	defer reader.Cancel()

	validator := citation.NewValidator(enum, s.cfg.StreamMinWindow)
	reasoning := newReasoningAssembler(s.emit)
	result := &composeResult{}
	streamedDelta := false

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read answer stream: %w", err)
		}

		switch ev.Kind {
		case llm.EventResponseID:
			result.ResponseID = ev.ResponseID
			continue
		case llm.EventReasoning:
			reasoning.add(ev.Reasoning)
			continue
		case llm.EventCompleted:
			// The final payload repeats text already streamed as deltas.
			if streamedDelta {
				continue
			}
		case llm.EventDelta:
			streamedDelta = true
		}

		chunk := llm.ExtractText(ev)
		if chunk == "" {
			continue
		}
		if err := validator.Feed(chunk); err != nil {
			log.Warn("stream cited unknown source, cancelling", "error", err)
			reader.Cancel()
			result.Rejected = true
			result.Reasoning = reasoning.snippets()
			return result, nil
		}
		s.emit.Emit(Event{Type: EventToken, Payload: map[string]any{"text": chunk}})
	}

	if err := validator.Finalize(); err != nil {
		result.Rejected = true
		result.Reasoning = reasoning.snippets()
		return result, nil
	}
	result.Text = validator.Text()
	result.Reasoning = reasoning.snippets()
	return result, nil
}

// reasoningAssembler reassembles reasoning fragments into snippets and
// surfaces each distinct snippet as an activity exactly once.
type reasoningAssembler struct {
	emit     Emitter
	parts    map[llm.ReasoningKey]*strings.Builder
	order    []llm.ReasoningKey
	announce map[string]bool
}

func newReasoningAssembler(emit Emitter) *reasoningAssembler {
	return &reasoningAssembler{
		emit:     emit,
		parts:    make(map[llm.ReasoningKey]*strings.Builder),
		announce: make(map[string]bool),
	}
}

func (a *reasoningAssembler) add(frag *llm.ReasoningFragment) {
	if frag == nil || frag.Text == "" {
		return
	}
	key := frag.Key()
	sb, ok := a.parts[key]
	if !ok {
		sb = &strings.Builder{}
		a.parts[key] = sb
		a.order = append(a.order, key)
		a.emit.Emit(Event{Type: EventActivity, Payload: map[string]any{
			"activity": "reasoning",
			"item_id":  frag.ItemID,
		}})
	}
	sb.WriteString(frag.Text)
}

// snippets returns the distinct assembled snippets in stream order.
func (a *reasoningAssembler) snippets() []string {
	out := make([]string, 0, len(a.order))
	seen := make(map[string]bool, len(a.order))
	for _, key := range a.order {
		text := strings.TrimSpace(a.parts[key].String())
		if text == "" {
			continue
		}
		norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, text)
	}
	return out
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
)

// planner turns a question plus conversation context into a retrieval plan.
// Planning never fails a turn: any model or decode error degrades to a
// single low-confidence vector search.
type planner struct {
	client llm.Client
	cfg    *Config
}

func (p *planner) plan(ctx context.Context, question, contextBlock string) *Plan {
	log := logging.WithComponent("planner")

	prompt := question
	if contextBlock != "" {
		prompt = fmt.Sprintf("Conversation context:\n%s\n\nQuestion: %s", contextBlock, question)
	}

	resp, err := p.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, p.cfg.PlannerPrompt),
			message.NewMessage(message.RoleUser, prompt),
		},
		Temperature: 0.1,
		JSONOnly:    true,
	})
	if err != nil {
		log.Warn("planner call failed, using fallback plan", "error", err)
		return p.fallback(question)
	}

	plan, err := decodeJSON[Plan](resp.Message.Text())
	if err != nil {
		log.Warn("planner output unparseable, using fallback plan",
			"error", err, "raw", trimForLog(resp.Message.Text(), 200))
		return p.fallback(question)
	}

	p.repair(plan, question)
	if len(plan.Steps) == 0 {
		return p.fallback(question)
	}
	return plan
}

// repair clamps model output into valid ranges rather than rejecting it.
func (p *planner) repair(plan *Plan, question string) {
	if plan.Confidence < 0 {
		plan.Confidence = 0
	}
	if plan.Confidence > 1 {
		plan.Confidence = 1
	}

	steps := plan.Steps[:0]
	for _, s := range plan.Steps {
		switch s.Action {
		case ActionVectorSearch, ActionWebSearch, ActionBoth, ActionAnswer:
		default:
			continue
		}
		s.Query = truncateRunes(strings.TrimSpace(s.Query), p.cfg.MaxQueryLen)
		if s.Query == "" && s.Action != ActionAnswer {
			s.Query = truncateRunes(question, p.cfg.MaxQueryLen)
		}
		if s.K <= 0 || s.K > p.cfg.TopK*4 {
			s.K = p.cfg.TopK
		}
		steps = append(steps, s)
	}
	plan.Steps = steps

	// A plan that neither retrieves nor answers is treated as a retrieval
	// request for the original question.
	if !plan.RequestsRetrieval() && !plan.AnswersDirectly() {
		plan.Steps = append(plan.Steps, PlanStep{
			Action: ActionVectorSearch,
			Query:  truncateRunes(question, p.cfg.MaxQueryLen),
			K:      p.cfg.TopK,
		})
	}
}

func (p *planner) fallback(question string) *Plan {
	return &Plan{
		Confidence: 0.3,
		Steps: []PlanStep{{
			Action: ActionVectorSearch,
			Query:  truncateRunes(question, p.cfg.MaxQueryLen),
			K:      p.cfg.TopK,
		}},
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

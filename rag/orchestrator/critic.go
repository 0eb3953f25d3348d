package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
)

const (
	criticAccept = "accept"
	criticRevise = "revise"
)

// critic judges a draft answer against the enumerated sources.
type critic struct {
	client llm.Client
	cfg    *Config
}

// review returns the critic's verdict for one draft. An unreachable or
// unparseable critic accepts: the loop must not spin on critic failures.
// When the critic accepts but its own numbers contradict acceptance, the
// verdict is forced to revise.
func (c *critic) review(ctx context.Context, question, draft, sources string) *CriticReport {
	log := logging.WithComponent("critic")

	accept := &CriticReport{Grounded: true, Coverage: 1, Action: criticAccept}
	if c.client == nil {
		return accept
	}

	prompt := fmt.Sprintf("Question: %s\n\nSources:\n%s\n\nDraft answer:\n%s", question, sources, draft)
	resp, err := c.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, c.cfg.CriticPrompt),
			message.NewMessage(message.RoleUser, prompt),
		},
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		log.Warn("critic call failed, accepting draft", "error", err)
		return accept
	}

	report, err := decodeJSON[CriticReport](resp.Message.Text())
	if err != nil {
		log.Warn("critic output unparseable, accepting draft",
			"error", err, "raw", trimForLog(resp.Message.Text(), 200))
		return accept
	}

	report.Action = strings.ToLower(strings.TrimSpace(report.Action))
	if report.Action != criticRevise {
		report.Action = criticAccept
	}
	if report.Coverage < 0 {
		report.Coverage = 0
	}
	if report.Coverage > 1 {
		report.Coverage = 1
	}

	if report.Action == criticAccept && (!report.Grounded || report.Coverage < c.cfg.CoverageThreshold) {
		report.Action = criticRevise
		report.Forced = true
	}
	return report
}

// accepted reports whether the loop may stop revising.
func (r *CriticReport) accepted() bool {
	return r != nil && r.Action == criticAccept
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/rag/citation"
)

// loopResult is the answer loop's outcome for one turn.
type loopResult struct {
	Answer     string
	ResponseID string
	Reasoning  []string
	Critic     *CriticReport
	Rejected   bool // every draft, or the stream, violated citation integrity
}

// answerLoop runs generate-critique-revise with a hard iteration bound: at
// most MaxCriticRetries revisions after the first generation. Between
// iterations it may hydrate lazy references when the critic signals thin
// coverage.
type answerLoop struct {
	synth *synthesizer
	crit  *critic
	cfg   *Config
	emit  Emitter
}

func (l *answerLoop) run(ctx context.Context, question, contextBlock string, disp *dispatchResult, stream bool) (*loopResult, error) {
	log := logging.WithComponent("loop")

	sources := renderSources(disp)
	hydrations := 0

	var draft string
	var report *CriticReport
	result := &loopResult{}

	for iteration := 0; iteration <= l.cfg.MaxCriticRetries; iteration++ {
		msgs := l.buildMessages(question, contextBlock, sources, draft, report)

		composed, err := l.synth.compose(ctx, msgs, disp.Enum, stream, result.ResponseID)
		if err != nil {
			return nil, err
		}
		if composed.ResponseID != "" {
			result.ResponseID = composed.ResponseID
		}
		result.Reasoning = append(result.Reasoning, composed.Reasoning...)
		if composed.Rejected {
			result.Rejected = true
			return result, nil
		}
		draft = composed.Text

		report = l.crit.review(ctx, question, draft, sources)
		result.Critic = report
		l.emit.Emit(Event{Type: EventCritique, Payload: map[string]any{
			"iteration": iteration,
			"grounded":  report.Grounded,
			"coverage":  report.Coverage,
			"action":    report.Action,
			"forced":    report.Forced,
			"issues":    report.Issues,
		}})

		if report.accepted() {
			result.Answer = draft
			return result, nil
		}
		log.Info("critic requested revision",
			"iteration", iteration,
			"coverage", report.Coverage,
			"grounded", report.Grounded,
			"forced", report.Forced)

		if iteration < l.cfg.MaxCriticRetries {
			if l.hydrateForRevision(ctx, disp, report, &hydrations) {
				sources = renderSources(disp)
			}
		}
	}

	// Retries exhausted: ship the last draft with its open issues visible
	// instead of hiding a known-imperfect answer.
	result.Answer = draft + qualityNote(report)
	log.Warn("critic retries exhausted, returning last draft", "issues", len(report.Issues))
	return result, nil
}

func (l *answerLoop) buildMessages(question, contextBlock, sources, draft string, report *CriticReport) []*message.Message {
	var user strings.Builder
	if contextBlock != "" {
		fmt.Fprintf(&user, "Conversation context:\n%s\n\n", contextBlock)
	}
	fmt.Fprintf(&user, "Question: %s\n\nSources:\n%s", question, sources)

	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, l.cfg.SynthesisPrompt),
		message.NewMessage(message.RoleUser, user.String()),
	}
	if draft != "" && report != nil {
		msgs = append(msgs,
			message.NewMessage(message.RoleAssistant, draft),
			message.NewMessage(message.RoleUser, revisionInstruction(report)),
		)
	}
	return msgs
}

// hydrateForRevision loads full content for lazy references when the critic
// found coverage thin, up to MaxHydrations per turn. Hydration changes
// source content only; the citation numbering stays frozen.
func (l *answerLoop) hydrateForRevision(ctx context.Context, disp *dispatchResult, report *CriticReport, hydrations *int) bool {
	if report.Coverage >= l.cfg.HydrationCoverageThreshold && report.Grounded {
		return false
	}
	log := logging.WithComponent("loop")

	changed := false
	for _, ref := range disp.References {
		if *hydrations >= l.cfg.MaxHydrations {
			break
		}
		if !ref.Lazy {
			continue
		}
		*hydrations++
		if err := ref.Hydrate(ctx); err != nil {
			log.Warn("hydration failed", "id", ref.ID, "error", err)
			continue
		}
		changed = true
		l.emit.Emit(Event{Type: EventActivity, Payload: map[string]any{
			"activity": "hydrate",
			"id":       ref.ID,
		}})
	}
	return changed
}

func revisionInstruction(report *CriticReport) string {
	var sb strings.Builder
	sb.WriteString("Revise the draft. The reviewer found these problems:\n")
	if len(report.Issues) == 0 {
		sb.WriteString("- The answer does not sufficiently cover the question from the sources.\n")
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(&sb, "- %s\n", issue)
	}
	sb.WriteString("Keep every claim grounded in the numbered sources with [n] citations.")
	return sb.String()
}

func qualityNote(report *CriticReport) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nNote: this answer did not pass the full quality review.")
	if len(report.Issues) > 0 {
		sb.WriteString(" Open issues:")
		for _, issue := range report.Issues {
			fmt.Fprintf(&sb, "\n- %s", issue)
		}
	}
	return sb.String()
}

// renderSources writes the numbered evidence block shown to the writer and
// critic. The numbering comes from the frozen enumeration, so the block and
// the validator always agree.
func renderSources(disp *dispatchResult) string {
	var sb strings.Builder
	for _, entry := range disp.Enum.Entries() {
		switch entry.Kind {
		case citation.SourceReference:
			if entry.Index >= len(disp.References) {
				continue
			}
			ref := disp.References[entry.Index]
			title := ref.Title
			if title == "" {
				title = ref.ID
			}
			fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", entry.Number, title, strings.TrimSpace(ref.Content))
		case citation.SourceWeb:
			if entry.Index >= len(disp.WebResults) {
				continue
			}
			web := disp.WebResults[entry.Index]
			fmt.Fprintf(&sb, "[%d] %s (%s)\n%s\n\n", entry.Number, web.Title, web.URL, strings.TrimSpace(web.Snippet))
		}
	}
	return strings.TrimSpace(sb.String())
}

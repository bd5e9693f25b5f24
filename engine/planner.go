package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/llm"
	"github.com/cumplia/enscope/session"
)

// Prompt is the next thing the assistant should say for a question.
type Prompt struct {
	// Text is the user-facing prompt.
	Text string

	// Field is the missing field being asked about; empty for a
	// confirmation prompt.
	Field string

	// Confirmation marks a near-threshold confirmation prompt.
	Confirmation bool
}

// Planner selects and phrases the next follow-up. Field selection is
// deterministic: always the first unsatisfied field in the question's
// declared order, so identical input sequences produce identical
// conversations.
type Planner struct {
	phraser   llm.Phraser
	threshold float64
	margin    float64
	logger    *slog.Logger
}

// NewPlanner creates a planner. margin is the confirmation margin above
// the confidence threshold.
func NewPlanner(phraser llm.Phraser, threshold, margin float64, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		phraser:   phraser,
		threshold: threshold,
		margin:    margin,
		logger:    logger,
	}
}

// NextPrompt returns the next prompt for the question, or nil when the
// question is complete and nothing remains to ask. A non-nil
// confirmation prompt means every field is satisfied but all evidence
// sits within the confirmation margin of the threshold; the caller
// issues it at most once per question (tracked via progress.Confirmed).
func (pl *Planner) NextPrompt(ctx context.Context, q *catalog.QuestionDefinition, p *session.QuestionProgress) (*Prompt, error) {
	if p.Status == session.StatusComplete {
		return nil, nil
	}

	known := p.Known()

	// First unsatisfied field in declared order. Satisfied fields are
	// structurally excluded: only their values are passed along, never
	// as open asks.
	for _, f := range q.Fields {
		if ev, ok := p.Fields[f.Name]; ok && ev.Satisfied {
			continue
		}

		text, err := pl.phraser.PhraseFollowUp(ctx, q.Prompt, f, known)
		if err != nil {
			// Phrasing is cosmetic; fall back to a deterministic
			// template rather than stalling the assessment.
			pl.logger.Warn("Follow-up phrasing failed, using template",
				"question", q.ID, "field", f.Name, "error", err)
			text = templateFollowUp(f)
		}
		return &Prompt{Text: text, Field: f.Name}, nil
	}

	// Everything satisfied: maybe ask for one confirmation when all
	// confidences hug the threshold.
	if !p.Confirmed && pl.allNearThreshold(q, p) {
		text, err := pl.phraser.PhraseConfirmation(ctx, q.Prompt, known)
		if err != nil {
			pl.logger.Warn("Confirmation phrasing failed, using template",
				"question", q.ID, "error", err)
			text = "¿Puede confirmar que los datos recogidos son correctos?"
		}
		return &Prompt{Text: text, Confirmation: true}, nil
	}

	return nil, nil
}

// allNearThreshold reports whether every satisfied confidence lies
// within the confirmation margin above the threshold.
func (pl *Planner) allNearThreshold(q *catalog.QuestionDefinition, p *session.QuestionProgress) bool {
	if pl.margin <= 0 {
		return false
	}
	for _, f := range q.Fields {
		ev, ok := p.Fields[f.Name]
		if !ok || !ev.Satisfied {
			return false
		}
		if ev.Confidence >= pl.threshold+pl.margin {
			return false
		}
	}
	return true
}

// templateFollowUp is the deterministic fallback prompt used when the
// phrasing call fails.
func templateFollowUp(f catalog.RequiredField) string {
	if f.Description != "" {
		return fmt.Sprintf("Por favor, indique: %s.", f.Description)
	}
	return fmt.Sprintf("Por favor, indique el valor de %q.", f.Name)
}

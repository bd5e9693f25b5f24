package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/llm"
	"github.com/cumplia/enscope/session"
)

// ErrExtractionUnavailable is returned when the extraction call failed
// after retries. The turn is a safe no-op: accumulated evidence is
// untouched and the caller may resubmit later.
var ErrExtractionUnavailable = errors.New("field extraction unavailable")

// Evaluator applies extracted evidence to question progress. The
// extraction call itself is a black box; every policy decision
// (threshold, format gate, merge rule, scoring) lives here where it is
// deterministic and testable.
type Evaluator struct {
	extractor llm.Extractor
	threshold float64
	logger    *slog.Logger
}

// NewEvaluator creates an evaluator with the given confidence threshold.
func NewEvaluator(extractor llm.Extractor, threshold float64, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		extractor: extractor,
		threshold: threshold,
		logger:    logger,
	}
}

// Evaluate runs extraction over the conversation window and merges the
// result into a copy of progress, which is returned. The input progress
// is never mutated, so a failed call leaves caller state identical.
func (e *Evaluator) Evaluate(ctx context.Context, q *catalog.QuestionDefinition, progress *session.QuestionProgress, window []llm.Message) (*session.QuestionProgress, error) {
	extracted, err := e.extractor.ExtractFields(ctx, q.Fields, window)
	if err != nil {
		if llm.IsFatal(err) {
			return nil, fmt.Errorf("extraction failed permanently: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionUnavailable, err)
	}

	updated := progress.Clone()
	now := time.Now().UTC()
	if err := updated.Begin(now); err != nil {
		return nil, err
	}

	for name, ev := range extracted {
		field := q.Field(name)
		if field == nil {
			continue
		}
		e.merge(updated, field, ev, now)
	}

	updated.Score = Score(q, updated)
	updated.LastUpdated = now
	return updated, nil
}

// merge applies one candidate evidence under the engine's merge policy:
// last-higher-confidence-wins, and satisfied evidence is never replaced
// by a candidate that would not itself satisfy the field. A candidate
// failing the format check is dropped silently, leaving the field as it
// was.
func (e *Evaluator) merge(p *session.QuestionProgress, field *catalog.RequiredField, candidate llm.Evidence, now time.Time) {
	formatOK := ValidateFormat(field.Format, candidate.Value)
	candidateSatisfies := formatOK && candidate.Confidence >= e.threshold

	stored, exists := p.Fields[field.Name]

	if exists {
		// A vague restatement must never degrade a good answer.
		if candidate.Confidence <= stored.Confidence {
			return
		}
		if stored.Satisfied && !candidateSatisfies {
			return
		}
	}

	if !formatOK {
		// InvalidFieldValue: handled silently, the field stays
		// unsatisfied and the planner will re-ask.
		e.logger.Debug("Discarding candidate with invalid format",
			"question", p.QuestionID,
			"field", field.Name,
			"format", field.Format,
			"value", candidate.Value)
		return
	}

	p.Fields[field.Name] = session.FieldEvidence{
		Value:      candidate.Value,
		Confidence: candidate.Confidence,
		Satisfied:  candidateSatisfies,
	}
	p.LastUpdated = now
}

// Score computes the completeness score: floor(satisfied/total*100).
func Score(q *catalog.QuestionDefinition, p *session.QuestionProgress) int {
	if len(q.Fields) == 0 {
		return 0
	}
	satisfied := 0
	for _, f := range q.Fields {
		if ev, ok := p.Fields[f.Name]; ok && ev.Satisfied {
			satisfied++
		}
	}
	return satisfied * 100 / len(q.Fields)
}

// AllSatisfied reports whether every declared field is satisfied.
func AllSatisfied(q *catalog.QuestionDefinition, p *session.QuestionProgress) bool {
	for _, f := range q.Fields {
		if ev, ok := p.Fields[f.Name]; !ok || !ev.Satisfied {
			return false
		}
	}
	return true
}

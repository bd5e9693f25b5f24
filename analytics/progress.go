// Package analytics aggregates committed answers into progress and
// quality reports across the question catalog.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cumplia/enscope/answers"
	"github.com/cumplia/enscope/catalog"
)

// Quality bands for completeness scores.
const (
	qualityHighMin   = 90
	qualityMediumMin = 60
)

// AnswerSource is the read side of the answer store the reporter needs.
type AnswerSource interface {
	AllLatest(ctx context.Context) (map[string]*answers.Record, error)
}

// Completion summarizes answered-vs-total for a slice of the catalog.
type Completion struct {
	Answered     int `json:"answered"`
	Total        int `json:"total"`
	Percent      int `json:"percent"`
	AverageScore int `json:"average_score"`
}

// DomainCompletion is the completion summary for one ENS domain.
type DomainCompletion struct {
	Domain catalog.Domain `json:"domain"`
	Completion
}

// QualityDistribution buckets answered questions by completeness score:
// high is 90 and above, medium 60 to 89, low below 60.
type QualityDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Report is a point-in-time progress snapshot across the catalog.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Overall     Completion          `json:"overall"`
	Domains     []DomainCompletion  `json:"domains"`
	Quality     QualityDistribution `json:"quality"`
}

// Reporter computes progress reports from the latest live answer of
// every question. Tombstoned answers do not count as progress.
type Reporter struct {
	cat    *catalog.Catalog
	src    AnswerSource
	logger *slog.Logger
}

// NewReporter creates a reporter over the catalog and answer source.
func NewReporter(cat *catalog.Catalog, src AnswerSource, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{cat: cat, src: src, logger: logger}
}

// Report builds the full snapshot: overall completion, per-domain
// completion in the catalog's domain order, and the quality buckets.
func (r *Reporter) Report(ctx context.Context) (*Report, error) {
	latest, err := r.src.AllLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest answers: %w", err)
	}

	rep := &Report{GeneratedAt: time.Now().UTC()}

	for _, d := range r.cat.Domains() {
		dc := DomainCompletion{Domain: d}
		scoreSum := 0
		for _, q := range r.cat.ByDomain(d) {
			dc.Total++
			rec, ok := latest[q.ID]
			if !ok {
				continue
			}
			dc.Answered++
			scoreSum += rec.Score

			switch {
			case rec.Score >= qualityHighMin:
				rep.Quality.High++
			case rec.Score >= qualityMediumMin:
				rep.Quality.Medium++
			default:
				rep.Quality.Low++
			}
		}
		dc.Completion = finish(dc.Completion, scoreSum)
		rep.Domains = append(rep.Domains, dc)

		rep.Overall.Answered += dc.Answered
		rep.Overall.Total += dc.Total
	}

	overallSum := 0
	for _, rec := range latest {
		if r.cat.Question(rec.QuestionID) != nil {
			overallSum += rec.Score
		}
	}
	rep.Overall = finish(rep.Overall, overallSum)

	return rep, nil
}

// DomainCompletion reports completion for a single domain.
func (r *Reporter) DomainCompletion(ctx context.Context, d catalog.Domain) (*DomainCompletion, error) {
	rep, err := r.Report(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rep.Domains {
		if rep.Domains[i].Domain == d {
			return &rep.Domains[i], nil
		}
	}
	return nil, fmt.Errorf("domain %s not in catalog", d)
}

// finish derives the percent and average fields once counting is done.
func finish(c Completion, scoreSum int) Completion {
	if c.Total > 0 {
		c.Percent = c.Answered * 100 / c.Total
	}
	if c.Answered > 0 {
		c.AverageScore = scoreSum / c.Answered
	}
	return c
}

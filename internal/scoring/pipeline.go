// Package scoring re-ranks index candidates through an ordered list of
// multiplicative stages.
package scoring

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/sha1n/relic-search/internal/domain"
)

// Candidate is one hit being scored.
type Candidate struct {
	Hit domain.Hit

	// Title is the stored text of the schema's title field.
	Title string

	// TitleTerms are the analyzed terms of the hit's title.
	TitleTerms []string

	// Score starts at the base score and accumulates stage multipliers.
	Score float64

	// OriginalRank is the 1-based position by base score.
	OriginalRank int

	// Rank is the 1-based position after scoring.
	Rank int
}

// Stage is a named scoring function. Score returns a multiplier applied to the
// candidate's score; values below zero, NaN and infinities are ignored.
type Stage struct {
	Name  string
	Score func(c *Candidate, query string, words []string) float64
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for rejected multipliers.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock fixes the time used by the recency stage.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.stages[1] = RecencyStage(now)
	}
}

// New creates a pipeline with the built-in title and recency stages.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: []Stage{TitleStage(), RecencyStage(time.Now)},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register appends custom stages. They run after the built-ins in
// registration order.
func (p *Pipeline) Register(stages ...Stage) {
	p.stages = append(p.stages, stages...)
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Rank assigns original ranks in input order, scores every candidate and
// sorts by final score. Ties keep their original order.
func (p *Pipeline) Rank(candidates []*Candidate, query string, words []string) {
	for i, c := range candidates {
		c.OriginalRank = i + 1
		c.Score = c.Hit.BaseScore
		for _, stage := range p.stages {
			m := stage.Score(c, query, words)
			if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
				p.logger.Warn("Ignoring invalid score multiplier",
					"stage", stage.Name, "id", c.Hit.ID, "multiplier", m)
				continue
			}
			c.Score *= m
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	for i, c := range candidates {
		c.Rank = i + 1
	}
}

package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/metrics"
	"github.com/sha1n/relic-search/internal/query"
	"github.com/sha1n/relic-search/internal/scoring"
	"github.com/sha1n/relic-search/internal/store"
)

// SnippetWords is the length of the fallback snippet when no content
// fragment was highlighted.
const SnippetWords = 64

// Request is a search request.
type Request = query.Request

// Response is the JSON-serializable result of a search.
type Response struct {
	Results []domain.Result `json:"results"`
	Summary Summary         `json:"summary"`
}

// Summary describes how a search was executed.
type Summary struct {
	// Duration is in seconds.
	Duration float64 `json:"duration"`

	// TotalMatches counts every indexed document matching the query and
	// filters, including those beyond the result limit.
	TotalMatches uint64 `json:"total_matches"`

	// ReturnedMatches counts the candidates retrieved from the index.
	ReturnedMatches int `json:"returned_matches"`

	// FilteredMatches counts the results left after scoring. A stage may
	// remove a result with a zero multiplier.
	FilteredMatches int `json:"filtered_matches"`

	CorrectedWords map[string]string `json:"corrected_words"`
	CorrectedQuery *string           `json:"corrected_query"`
	TitleOnly      bool              `json:"title_only"`
	AppliedFilters domain.Filters    `json:"applied_filters"`
}

func emptyResponse(req Request) *Response {
	return &Response{
		Results: []domain.Result{},
		Summary: Summary{TitleOnly: req.TitleOnly, AppliedFilters: req.Filters},
	}
}

// Search runs req under the caller's visibility predicate. Title and content
// of each result are HTML-safe; matched terms are wrapped in <mark>.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if !e.enabled {
		metrics.ObserveSearch(e.name, metrics.OutcomeDisabled, 0, 0)
		return emptyResponse(req), nil
	}

	resp, corrections, err := e.search(ctx, req, start)
	outcome := metrics.OutcomeOK
	switch {
	case err == nil && len(resp.Results) == 0:
		outcome = metrics.OutcomeEmpty
	case errors.Is(err, ErrSearchUnavailable):
		outcome = metrics.OutcomeUnavailable
	case err != nil:
		outcome = metrics.OutcomeInvalid
	}
	metrics.ObserveSearch(e.name, outcome, time.Since(start), corrections)
	return resp, err
}

func (e *Engine) search(ctx context.Context, req Request, start time.Time) (*Response, int, error) {
	var permission domain.Filters
	if e.permissions != nil {
		p, err := e.permissions.VisibilityPredicate(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to resolve visibility predicate: %w", err)
		}
		permission = p
	}

	plan, err := e.builder.Build(req, permission)
	if err != nil {
		return nil, 0, err
	}
	if !e.store.Exists() {
		return nil, 0, ErrIndexMissing
	}

	resp := emptyResponse(req)
	if len(plan.Corrections) > 0 {
		resp.Summary.CorrectedWords = plan.Corrections
		corrected := plan.CorrectedQuery()
		resp.Summary.CorrectedQuery = &corrected
	}
	if plan.NoMatch {
		resp.Summary.Duration = seconds(time.Since(start))
		return resp, len(plan.Corrections), nil
	}

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()
	candidates, err := e.store.Query(qctx, plan.Text,
		store.QueryOptions{Limit: e.maxResults, Highlight: true}, plan.FilterSets()...)
	if err != nil {
		if errors.Is(err, store.ErrIndexMissing) {
			return nil, 0, ErrIndexMissing
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, 0, ctx.Err()
		}
		e.logger.Warn("Search query failed", "query", plan.Query, "error", err)
		return nil, 0, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	resp.Results = e.rank(plan, candidates.Hits)
	resp.Summary.TotalMatches = candidates.Total
	resp.Summary.ReturnedMatches = len(candidates.Hits)
	resp.Summary.FilteredMatches = len(resp.Results)
	resp.Summary.Duration = seconds(time.Since(start))

	e.logger.Debug("Search completed", "query", plan.Query, "total", candidates.Total,
		"returned", len(resp.Results), "corrections", len(plan.Corrections))
	return resp, len(plan.Corrections), nil
}

// rank scores the hits and renders the results in final order.
func (e *Engine) rank(plan *query.Plan, hits []domain.Hit) []domain.Result {
	titleField := e.schema.TitleField()
	analyzer := e.store.Analyzer()

	candidates := make([]*scoring.Candidate, len(hits))
	for i := range hits {
		title := hits[i].Text[titleField]
		candidates[i] = &scoring.Candidate{
			Hit:        hits[i],
			Title:      title,
			TitleTerms: analyzer.Terms(title),
		}
	}
	e.pipeline.Rank(candidates, plan.Query, plan.Words())

	results := make([]domain.Result, 0, len(candidates))
	for _, c := range candidates {
		if c.Score <= 0 {
			continue
		}
		results = append(results, e.render(c, titleField))
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func (e *Engine) render(c *scoring.Candidate, titleField string) domain.Result {
	h := &c.Hit
	r := domain.Result{
		ID:           h.ID,
		SourceType:   h.SourceType,
		SourceID:     h.SourceID,
		Title:        fragmentOr(h.Fragments[titleField], html.EscapeString(h.Text[titleField])),
		Content:      fragmentOr(h.Fragments[e.contentField()], leadingSnippet(h.Text[e.contentField()])),
		Metadata:     h.Metadata,
		BaseScore:    h.BaseScore,
		Score:        c.Score,
		OriginalRank: c.OriginalRank,
		Rank:         c.Rank,
	}
	if !h.Modified.IsZero() {
		modified := h.Modified
		r.Modified = &modified
	}
	return r
}

// contentField is "content" when declared, otherwise the first text field
// that is not the title.
func (e *Engine) contentField() string {
	if e.schema.HasTextField(domain.FieldContent) {
		return domain.FieldContent
	}
	title := e.schema.TitleField()
	for _, f := range e.schema.TextFields {
		if f != title {
			return f
		}
	}
	return title
}

func fragmentOr(fragments []string, fallback string) string {
	if len(fragments) == 0 {
		return fallback
	}
	return strings.Join(fragments, " … ")
}

// leadingSnippet returns the escaped first SnippetWords words of text.
func leadingSnippet(text string) string {
	words := strings.Fields(text)
	if len(words) <= SnippetWords {
		return html.EscapeString(strings.Join(words, " "))
	}
	return html.EscapeString(strings.Join(words[:SnippetWords], " ")) + "..."
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// Package query turns a search request into an index query plan.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/schema"
)

var (
	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("search query is empty")

	// ErrUnknownFilterField is returned for a filter on a field that is not a
	// declared metadata field.
	ErrUnknownFilterField = errors.New("unknown filter field")

	// ErrInvalidFilterValue is returned for a filter that cannot be applied to
	// its field.
	ErrInvalidFilterValue = errors.New("invalid filter value")
)

// MinPrefixLength is the shortest term that also matches as a prefix.
const MinPrefixLength = 4

// Request is a caller's search request.
type Request struct {
	Query     string         `json:"query"`
	TitleOnly bool           `json:"title_only,omitempty"`
	Filters   domain.Filters `json:"filters,omitempty"`
}

// TermSource tokenizes text the way the index does.
type TermSource interface {
	Terms(text string) []string
}

// Corrector proposes spelling corrections for unknown terms.
type Corrector interface {
	Correct(terms []string) map[string]string
}

// Plan is a request resolved against the schema, the vocabulary and the
// caller's visibility predicate.
type Plan struct {
	// Query is the trimmed raw query.
	Query     string
	TitleOnly bool

	// Terms are the distinct analyzed query terms in query order.
	Terms []string

	// Corrections maps a literal term to the term added as its alternative.
	Corrections map[string]string

	// Text is the text-match expression. Nil when NoMatch is set.
	Text bq.Query

	// Filters are the user filters merged with the visibility predicate.
	Filters domain.Filters

	// Restrictions are visibility constraints that could not be folded into
	// Filters, such as a LIKE predicate on a field the user filters exactly.
	Restrictions domain.Filters

	// NoMatch is set when the plan cannot match any document.
	NoMatch bool
}

// FilterSets returns the filter sets every candidate must satisfy.
func (p *Plan) FilterSets() []domain.Filters {
	sets := []domain.Filters{p.Filters}
	if len(p.Restrictions) > 0 {
		sets = append(sets, p.Restrictions)
	}
	return sets
}

// Words returns the terms with corrections applied, as used for ranking.
func (p *Plan) Words() []string {
	words := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		if fixed, ok := p.Corrections[t]; ok {
			words[i] = fixed
		} else {
			words[i] = t
		}
	}
	return words
}

// CorrectedQuery returns the query with corrected terms substituted, or ""
// when nothing was corrected.
func (p *Plan) CorrectedQuery() string {
	if len(p.Corrections) == 0 {
		return ""
	}
	return strings.Join(p.Words(), " ")
}

// Builder builds plans for one schema.
type Builder struct {
	schema    *schema.Schema
	terms     TermSource
	corrector Corrector
}

// NewBuilder creates a builder. corrector may be nil to disable correction.
func NewBuilder(s *schema.Schema, terms TermSource, corrector Corrector) *Builder {
	return &Builder{schema: s, terms: terms, corrector: corrector}
}

// Build resolves req under the visibility predicate permission.
func (b *Builder) Build(req Request, permission domain.Filters) (*Plan, error) {
	raw := strings.TrimSpace(req.Query)
	if raw == "" {
		return nil, ErrEmptyQuery
	}
	if err := b.checkFields(req.Filters); err != nil {
		return nil, err
	}
	if err := b.checkFields(permission); err != nil {
		return nil, fmt.Errorf("visibility predicate: %w", err)
	}

	plan := &Plan{
		Query:       raw,
		TitleOnly:   req.TitleOnly,
		Corrections: map[string]string{},
	}
	plan.Filters, plan.Restrictions, plan.NoMatch = merge(req.Filters, permission)

	plan.Terms = distinct(b.terms.Terms(raw))
	if len(plan.Terms) == 0 {
		plan.NoMatch = true
	}
	if plan.NoMatch {
		return plan, nil
	}

	if b.corrector != nil {
		for term, fixed := range b.corrector.Correct(plan.Terms) {
			if fixed != term {
				plan.Corrections[term] = fixed
			}
		}
	}
	plan.Text = b.textQuery(plan)
	return plan, nil
}

func (b *Builder) checkFields(filters domain.Filters) error {
	for field, f := range filters {
		if !b.schema.IsMetadataField(field) {
			return fmt.Errorf("%w: %q", ErrUnknownFilterField, field)
		}
		if field != domain.FieldModified {
			continue
		}
		if err := domain.CheckModifiedFilter(f); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFilterValue, err)
		}
	}
	return nil
}

func (b *Builder) fields(titleOnly bool) []string {
	if titleOnly {
		return []string{b.schema.TitleField()}
	}
	return b.schema.TextFields
}

// textQuery is a conjunction over terms of a disjunction over each term's
// alternatives in every searched field.
func (b *Builder) textQuery(plan *Plan) bq.Query {
	fields := b.fields(plan.TitleOnly)
	conjuncts := make([]bq.Query, 0, len(plan.Terms))
	for _, term := range plan.Terms {
		alternatives := []string{term}
		if fixed, ok := plan.Corrections[term]; ok {
			alternatives = append(alternatives, fixed)
		}

		var disjuncts []bq.Query
		for _, alt := range alternatives {
			for _, field := range fields {
				tq := bleve.NewTermQuery(alt)
				tq.SetField(field)
				disjuncts = append(disjuncts, tq)

				if utf8.RuneCountInString(alt) >= MinPrefixLength {
					pq := bleve.NewPrefixQuery(alt)
					pq.SetField(field)
					pq.SetBoost(0.5)
					disjuncts = append(disjuncts, pq)
				}
			}
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(disjuncts...))
	}
	if len(conjuncts) == 1 {
		return conjuncts[0]
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// merge combines user filters with the visibility predicate field by field.
// Exact filters on the same field are intersected. A LIKE filter on either
// side cannot be intersected by value, so the visibility side is kept as a
// separate restriction.
func merge(user, permission domain.Filters) (merged, restrictions domain.Filters, none bool) {
	merged = make(domain.Filters, len(user)+len(permission))
	for field, f := range user {
		merged[field] = f
	}

	fields := make([]string, 0, len(permission))
	for field := range permission {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		p := permission[field]
		u, both := merged[field]
		switch {
		case !both:
			merged[field] = p
		case !u.Like && !p.Like:
			merged[field] = u.Intersect(p)
		default:
			if restrictions == nil {
				restrictions = domain.Filters{}
			}
			restrictions[field] = p
		}
	}

	for _, f := range merged {
		if f.MatchesNothing() {
			none = true
		}
	}
	for _, f := range restrictions {
		if f.MatchesNothing() {
			none = true
		}
	}
	return merged, restrictions, none
}

func distinct(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

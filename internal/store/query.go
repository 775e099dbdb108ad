package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/spf13/cast"
)

// QueryOptions controls candidate retrieval.
type QueryOptions struct {
	// Limit caps the number of candidates. Zero means 100.
	Limit int

	// Highlight requests <mark> fragments for the text fields.
	Highlight bool
}

// Candidates are the hits of a query ordered by base score.
type Candidates struct {
	// Total is the number of matching documents before Limit.
	Total uint64
	Hits  []domain.Hit
	Took  time.Duration
}

// FilterQuery converts metadata filters into a conjunction of per-field
// disjunctions. Every filter set must hold. Equality uses the keyword field,
// LIKE filters match the lowercased companion field.
func FilterQuery(sets ...domain.Filters) query.Query {
	var conjuncts []query.Query
	for _, filters := range sets {
		fq, none := filterConjuncts(filters)
		if none {
			return bleve.NewMatchNoneQuery()
		}
		conjuncts = append(conjuncts, fq...)
	}
	switch len(conjuncts) {
	case 0:
		return nil
	case 1:
		return conjuncts[0]
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

func filterConjuncts(filters domain.Filters) ([]query.Query, bool) {
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	conjuncts := make([]query.Query, 0, len(fields))
	for _, field := range fields {
		f := filters[field]
		if f.MatchesNothing() {
			return nil, true
		}
		alternatives := make([]query.Query, 0, len(f.Values))
		for _, v := range f.Values {
			if field == domain.FieldModified {
				if mq := modifiedQuery(v); mq != nil {
					alternatives = append(alternatives, mq)
				}
				continue
			}
			if f.Like {
				wq := bleve.NewWildcardQuery(likePattern(v))
				wq.SetField(LowerField(field))
				alternatives = append(alternatives, wq)
				continue
			}
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			alternatives = append(alternatives, tq)
		}
		switch len(alternatives) {
		case 0:
			return nil, true
		case 1:
			conjuncts = append(conjuncts, alternatives[0])
		default:
			conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(alternatives...))
		}
	}
	return conjuncts, false
}

// modifiedQuery matches the stored unix seconds of FieldModified against the
// range of an exact value. Unparseable values match nothing.
func modifiedQuery(value string) query.Query {
	from, to, err := domain.ModifiedRange(value)
	if err != nil {
		return nil
	}
	lo, hi := float64(from.Unix()), float64(to.Unix())
	inclusive, exclusive := true, false
	q := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &inclusive, &exclusive)
	q.SetField(domain.FieldModified)
	return q
}

var sqlWildcards = strings.NewReplacer("%", "*", "_", "?")

// likePattern turns a LIKE value into a wildcard pattern. SQL wildcards are
// honoured; a value without wildcards matches as a substring.
func likePattern(v string) string {
	p := strings.ToLower(v)
	if !strings.ContainsAny(p, "%_*?") {
		return "*" + p + "*"
	}
	return sqlWildcards.Replace(p)
}

// Query runs text, restricted by every filter set, against the live index.
// The context bounds the search.
func (s *Store) Query(ctx context.Context, text query.Query, opts QueryOptions, filters ...domain.Filters) (*Candidates, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	q := text
	if fq := FilterQuery(filters...); fq != nil {
		q = bleve.NewConjunctionQuery(text, fq)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{"-_score", "_id"})
	if opts.Highlight {
		req.Highlight = bleve.NewHighlightWithStyle(html.Name)
		for _, field := range s.schema.TextFields {
			req.Highlight.AddField(field)
		}
	}

	live, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer live.readers.Done()

	result, err := live.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	candidates := &Candidates{
		Total: result.Total,
		Hits:  make([]domain.Hit, 0, len(result.Hits)),
		Took:  result.Took,
	}
	for _, match := range result.Hits {
		candidates.Hits = append(candidates.Hits, s.toHit(match))
	}
	return candidates, nil
}

// acquire returns the live generation with a reader reference held. The
// store lock is not held while the query runs, so a swap never waits for it.
func (s *Store) acquire() (*generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.live == nil {
		return nil, ErrIndexMissing
	}
	s.live.readers.Add(1)
	return s.live, nil
}

func (s *Store) toHit(match *search.DocumentMatch) domain.Hit {
	hit := domain.Hit{
		ID:        match.ID,
		BaseScore: match.Score,
		Text:      make(map[string]string, len(s.schema.TextFields)),
		Metadata:  make(map[string]string),
	}
	hit.SourceType, hit.SourceID, _ = domain.SplitDocumentID(match.ID)

	for name, value := range match.Fields {
		switch {
		case name == domain.FieldSourceType:
			hit.SourceType = cast.ToString(value)
		case name == domain.FieldSourceID:
			hit.SourceID = cast.ToString(value)
		case name == domain.FieldModified:
			if secs, err := cast.ToFloat64E(value); err == nil && secs > 0 {
				hit.Modified = time.Unix(int64(secs), 0).UTC()
			}
		case slices.Contains(s.schema.TextFields, name):
			hit.Text[name] = fieldString(value)
		default:
			hit.Metadata[name] = fieldString(value)
		}
	}

	if len(match.Fragments) > 0 {
		hit.Fragments = make(map[string][]string, len(match.Fragments))
		for field, fragments := range match.Fragments {
			hit.Fragments[field] = fragments
		}
	}
	return hit
}

// fieldString flattens stored values; array values are joined.
func fieldString(value any) string {
	if list, ok := value.([]any); ok {
		parts := make([]string, 0, len(list))
		for _, v := range list {
			parts = append(parts, cast.ToString(v))
		}
		return strings.Join(parts, " ")
	}
	return cast.ToString(value)
}

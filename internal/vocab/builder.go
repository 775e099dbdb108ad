package vocab

import "github.com/sha1n/relic-search/internal/domain"

// TermSource tokenizes text. It must be the analyzer used by the index.
type TermSource interface {
	Terms(text string) []string
}

// Builder tallies document frequencies for a full vocabulary rebuild.
// It is not safe for concurrent use.
type Builder struct {
	terms TermSource
	df    map[string]int
	docs  int
}

// NewBuilder creates an empty builder.
func NewBuilder(terms TermSource) *Builder {
	return &Builder{terms: terms, df: make(map[string]int)}
}

// Add counts the eligible terms of every text field of doc.
func (b *Builder) Add(doc *domain.Document) {
	for term := range documentTerms(b.terms, doc) {
		b.df[term]++
	}
	b.docs++
}

// Len returns the number of distinct terms.
func (b *Builder) Len() int {
	return len(b.df)
}

// Documents returns the number of documents added.
func (b *Builder) Documents() int {
	return b.docs
}

// documentTerms returns the distinct eligible terms of a document.
func documentTerms(terms TermSource, doc *domain.Document) map[string]struct{} {
	out := make(map[string]struct{})
	for _, text := range doc.Text {
		for _, term := range terms.Terms(text) {
			if Eligible(term) {
				out[term] = struct{}{}
			}
		}
	}
	return out
}

package extract

import (
	"context"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/schema"
	"github.com/sha1n/relic-search/internal/source"
)

// PrepareFunc customizes a mapped document. It receives the raw record and the
// document built from the field mapping, and returns the document to index.
// Returning nil skips the record.
type PrepareFunc func(ctx context.Context, rec source.Record, doc *domain.Document) (*domain.Document, error)

// Adapter turns records of one source type into documents.
type Adapter interface {
	// Mapping returns the field mapping and eligibility filters.
	Mapping() *schema.SourceMapping

	// Prepare runs after field mapping and before HTML cleaning.
	Prepare(ctx context.Context, rec source.Record, doc *domain.Document) (*domain.Document, error)
}

// MappingAdapter is the schema-driven Adapter with an optional hook.
type MappingAdapter struct {
	mapping *schema.SourceMapping
	prepare PrepareFunc
}

// NewMappingAdapter creates an adapter. prepare may be nil.
func NewMappingAdapter(mapping *schema.SourceMapping, prepare PrepareFunc) *MappingAdapter {
	return &MappingAdapter{mapping: mapping, prepare: prepare}
}

// Mapping implements Adapter.
func (a *MappingAdapter) Mapping() *schema.SourceMapping {
	return a.mapping
}

// Prepare implements Adapter.
func (a *MappingAdapter) Prepare(ctx context.Context, rec source.Record, doc *domain.Document) (*domain.Document, error) {
	if a.prepare == nil {
		return doc, nil
	}
	return a.prepare(ctx, rec, doc)
}

// HasHook reports whether a preparation hook is registered.
func (a *MappingAdapter) HasHook() bool {
	return a.prepare != nil
}

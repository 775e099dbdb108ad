// Package extract turns raw host records into normalized documents.
package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/htmltext"
	"github.com/sha1n/relic-search/internal/schema"
	"github.com/sha1n/relic-search/internal/source"
	"github.com/spf13/cast"
)

// ErrUnknownSourceType is returned for source types the schema does not declare.
var ErrUnknownSourceType = errors.New("unknown source type")

// Outcome reports what happened to a single record in ExtractOne.
type Outcome int

const (
	// OutcomeFound means a document was produced.
	OutcomeFound Outcome = iota
	// OutcomeAbsent means the record does not exist.
	OutcomeAbsent
	// OutcomeIneligible means the record fails the source filters.
	OutcomeIneligible
	// OutcomeSkipped means the hook or validation rejected the record.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeAbsent:
		return "absent"
	case OutcomeIneligible:
		return "ineligible"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAdapter replaces the schema-driven adapter of a source type.
func WithAdapter(sourceType string, a Adapter) Option {
	return func(e *Extractor) {
		e.custom[sourceType] = a
	}
}

// WithPrepare registers a preparation hook on the schema-driven adapter.
func WithPrepare(sourceType string, fn PrepareFunc) Option {
	return func(e *Extractor) {
		e.hooks[sourceType] = fn
	}
}

// WithWarnings sets the warning collector.
func WithWarnings(w *Warnings) Option {
	return func(e *Extractor) {
		if w != nil {
			e.warnings = w
		}
	}
}

// Extractor reads records from a DocumentSource and produces documents.
type Extractor struct {
	schema   *schema.Schema
	source   source.DocumentSource
	adapters map[string]Adapter
	custom   map[string]Adapter
	hooks    map[string]PrepareFunc
	warnings *Warnings
	logger   *slog.Logger
}

// New creates an extractor. It fails when a source type cannot produce a
// declared text field: the field has no mapping and no hook is registered.
func New(s *schema.Schema, src source.DocumentSource, opts ...Option) (*Extractor, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if src == nil {
		return nil, fmt.Errorf("document source cannot be nil")
	}

	e := &Extractor{
		schema:   s,
		source:   src,
		adapters: make(map[string]Adapter, len(s.Sources)),
		custom:   make(map[string]Adapter),
		hooks:    make(map[string]PrepareFunc),
		warnings: NewWarnings(nil),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for sourceType := range e.custom {
		if _, ok := s.Sources[sourceType]; !ok {
			return nil, fmt.Errorf("%w: adapter registered for %q", ErrUnknownSourceType, sourceType)
		}
	}
	for sourceType := range e.hooks {
		if _, ok := s.Sources[sourceType]; !ok {
			return nil, fmt.Errorf("%w: hook registered for %q", ErrUnknownSourceType, sourceType)
		}
	}

	for sourceType, mapping := range s.Sources {
		a, ok := e.custom[sourceType]
		if !ok {
			a = NewMappingAdapter(mapping, e.hooks[sourceType])
		}
		if a.Mapping() == nil {
			return nil, fmt.Errorf("%w: adapter for %q has no mapping", schema.ErrInvalidSchema, sourceType)
		}
		if ma, isMapping := a.(*MappingAdapter); isMapping && !ma.HasHook() {
			if missing := ma.Mapping().UnresolvedTextFields(s.TextFields); len(missing) > 0 {
				return nil, fmt.Errorf("%w: source type %q does not map text fields %v and has no prepare hook",
					schema.ErrInvalidSchema, sourceType, missing)
			}
		}
		e.adapters[sourceType] = a
	}

	return e, nil
}

// Warnings returns the collector used by the extractor.
func (e *Extractor) Warnings() *Warnings {
	return e.warnings
}

// Extract lazily yields the documents of every eligible record of sourceType.
// Invalid records are skipped and counted as warnings. A non-nil error ends
// the sequence.
func (e *Extractor) Extract(ctx context.Context, sourceType string) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		a, ok := e.adapters[sourceType]
		if !ok {
			yield(domain.Document{}, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType))
			return
		}
		mapping := a.Mapping()

		for rec, err := range e.source.ListRecords(ctx, sourceType, mapping.Filters) {
			if err != nil {
				if errors.Is(err, source.ErrInvalidRecord) {
					e.warn(WarningInvalidDocument, sourceType, "", err.Error())
					continue
				}
				yield(domain.Document{}, fmt.Errorf("failed to list %s records: %w", sourceType, err))
				return
			}
			if !mapping.Eligible(rec.Fields) {
				continue
			}

			doc := e.process(ctx, sourceType, a, rec)
			if doc == nil {
				continue
			}
			if !yield(*doc, nil) {
				return
			}
		}
	}
}

// ExtractOne fetches and processes a single record.
func (e *Extractor) ExtractOne(ctx context.Context, sourceType, id string) (*domain.Document, Outcome, error) {
	if sourceType == "" {
		e.warn(WarningMissingSourceType, "", id, "record has no source type")
		return nil, OutcomeSkipped, nil
	}
	a, ok := e.adapters[sourceType]
	if !ok {
		return nil, OutcomeSkipped, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	if id == "" {
		e.warn(WarningMissingID, sourceType, "", "record has no identifier")
		return nil, OutcomeSkipped, nil
	}

	rec, found, err := e.source.GetRecord(ctx, sourceType, id)
	if err != nil {
		return nil, OutcomeSkipped, fmt.Errorf("failed to get %s %s: %w", sourceType, id, err)
	}
	if !found {
		return nil, OutcomeAbsent, nil
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if !a.Mapping().Eligible(rec.Fields) {
		return nil, OutcomeIneligible, nil
	}

	doc := e.process(ctx, sourceType, a, rec)
	if doc == nil {
		return nil, OutcomeSkipped, nil
	}
	return doc, OutcomeFound, nil
}

// process applies the field mapping, the hook, HTML cleaning and validation.
// It returns nil when the record must not be indexed.
func (e *Extractor) process(ctx context.Context, sourceType string, a Adapter, rec source.Record) *domain.Document {
	if rec.ID == "" {
		e.warn(WarningMissingID, sourceType, "", "record has no identifier")
		return nil
	}

	doc := e.mapFields(sourceType, a.Mapping(), rec)

	prepared, err := a.Prepare(ctx, rec, doc)
	if err != nil {
		e.warn(WarningOther, sourceType, rec.ID, fmt.Sprintf("prepare failed: %v", err))
		return nil
	}
	if prepared == nil {
		e.logger.Debug("Record skipped by prepare hook", "source_type", sourceType, "source_id", rec.ID)
		return nil
	}
	doc = e.normalize(sourceType, rec.ID, prepared)

	for _, field := range e.schema.TextFields {
		value, ok := doc.Text[field]
		switch {
		case !ok:
			e.warn(missingFieldWarning(field), sourceType, rec.ID, fmt.Sprintf("text field %q is missing", field))
			return nil
		case value == "":
			e.warn(WarningMissingTextFields, sourceType, rec.ID, fmt.Sprintf("text field %q is empty", field))
			return nil
		}
	}
	return doc
}

func (e *Extractor) mapFields(sourceType string, mapping *schema.SourceMapping, rec source.Record) *domain.Document {
	doc := domain.NewDocument(sourceType, rec.ID)
	done := make(map[string]bool, len(mapping.Fields))

	for _, f := range mapping.Fields {
		if done[f.Target] {
			continue
		}
		done[f.Target] = true

		src, _ := mapping.Resolve(f.Target)
		value := rec.Get(src)
		if value == nil {
			continue
		}

		switch {
		case f.Target == domain.FieldModified:
			t, err := toTime(value)
			if err != nil {
				e.logger.Warn("Ignoring unparseable modified time",
					"source_type", sourceType, "source_id", rec.ID, "value", value, "error", err)
				continue
			}
			doc.Modified = t
		case e.schema.HasTextField(f.Target):
			doc.Text[f.Target] = cast.ToString(value)
		case e.schema.IsMetadataField(f.Target):
			doc.Metadata[f.Target] = cast.ToString(value)
		}
	}
	return doc
}

// normalize restores identity, drops undeclared fields and strips HTML.
func (e *Extractor) normalize(sourceType, id string, doc *domain.Document) *domain.Document {
	doc.SourceType = sourceType
	doc.SourceID = id
	if doc.Text == nil {
		doc.Text = make(map[string]string)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]string)
	}

	for field, value := range doc.Text {
		if !e.schema.HasTextField(field) {
			delete(doc.Text, field)
			continue
		}
		doc.Text[field] = htmltext.Strip(value)
	}
	for field := range doc.Metadata {
		if !e.schema.IsMetadataField(field) || isIdentityField(field) {
			delete(doc.Metadata, field)
		}
	}
	return doc
}

func (e *Extractor) warn(t WarningType, sourceType, id, message string) {
	e.logger.Warn("Skipping record", "type", t, "source_type", sourceType, "source_id", id, "reason", message)
	e.warnings.Add(Warning{Type: t, SourceType: sourceType, SourceID: id, Message: message})
}

func missingFieldWarning(field string) WarningType {
	switch field {
	case domain.FieldTitle:
		return WarningMissingTitleField
	case domain.FieldContent:
		return WarningMissingContentField
	}
	return WarningMissingTextFields
}

func isIdentityField(field string) bool {
	return field == domain.FieldSourceType || field == domain.FieldSourceID || field == domain.FieldModified
}

// toTime accepts time values, date strings and unix seconds.
func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("invalid timestamp %v", v)
		}
		return time.Unix(int64(v), 0).UTC(), nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		return cast.ToTimeE(v)
	}
	return cast.ToTimeE(value)
}

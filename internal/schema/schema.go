package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/sha1n/relic-search/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSchema is returned (wrapped) for every schema configuration problem.
var ErrInvalidSchema = errors.New("invalid schema")

// DefaultTokenizer folds diacritics and splits on Unicode word boundaries.
const DefaultTokenizer = "unicode remove_diacritics"

// DefaultIndexName is used when the schema does not name its index.
const DefaultIndexName = "search"

// Schema describes what is indexed and how.
type Schema struct {
	// Name identifies the index on disk. One engine per name.
	Name string `yaml:"name"`

	// TextFields are tokenized and searchable. Defaults to [title, content].
	TextFields []string `yaml:"text_fields"`

	// MetadataFields are stored verbatim and filterable.
	MetadataFields []string `yaml:"metadata_fields"`

	// Tokenizer configures text normalization, see ParseTokenizer.
	Tokenizer string `yaml:"tokenizer"`

	// Sources maps a source type to its field mapping and eligibility filters.
	Sources map[string]*SourceMapping `yaml:"sources"`

	// Permissions are static visibility predicates used by the bundled server.
	Permissions Permissions `yaml:"permissions"`
}

// Permissions holds per-principal visibility predicates.
type Permissions struct {
	Default    domain.Filters            `yaml:"default"`
	Principals map[string]domain.Filters `yaml:"principals"`
}

// Load reads and validates a schema file.
func Load(path string) (*Schema, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open schema: %w", err)
	}
	defer func() { _ = f.Close() }()

	var s Schema
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Parse decodes and validates a schema from YAML bytes.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate applies defaults and checks the schema invariants.
// It is idempotent.
func (s *Schema) Validate() error {
	if s.Name == "" {
		s.Name = DefaultIndexName
	}
	if strings.ContainsAny(s.Name, `/\:`) {
		return invalid("index name %q must not contain path separators or colons", s.Name)
	}
	if len(s.TextFields) == 0 {
		s.TextFields = []string{domain.FieldTitle, domain.FieldContent}
	}
	if s.Tokenizer == "" {
		s.Tokenizer = DefaultTokenizer
	}
	if _, err := ParseTokenizer(s.Tokenizer); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, f := range s.TextFields {
		if f == "" {
			return invalid("text field name cannot be empty")
		}
		if isReserved(f) {
			return invalid("text field %q is reserved", f)
		}
		if seen[f] {
			return invalid("duplicate text field %q", f)
		}
		seen[f] = true
	}

	metadata := make([]string, 0, len(s.MetadataFields)+1)
	for _, f := range s.MetadataFields {
		if f == "" {
			return invalid("metadata field name cannot be empty")
		}
		if seen[f] {
			return invalid("field %q declared as both text and metadata", f)
		}
		if f == domain.FieldSourceType || f == domain.FieldSourceID {
			continue // always present
		}
		if !slices.Contains(metadata, f) {
			metadata = append(metadata, f)
		}
	}

	if len(s.Sources) == 0 {
		return invalid("at least one source type must be declared")
	}
	for name, m := range s.Sources {
		if name == "" || strings.Contains(name, ":") {
			return invalid("source type %q must be non-empty and must not contain ':'", name)
		}
		if m == nil {
			return invalid("source type %q has no mapping", name)
		}
		if err := m.validate(name); err != nil {
			return err
		}
		if m.usesModified() && !slices.Contains(metadata, domain.FieldModified) {
			metadata = append(metadata, domain.FieldModified)
		}
	}
	s.MetadataFields = metadata

	for principal, filters := range s.Permissions.Principals {
		if err := s.CheckFilterFields(filters); err != nil {
			return fmt.Errorf("permissions for %q: %w", principal, err)
		}
	}
	if err := s.CheckFilterFields(s.Permissions.Default); err != nil {
		return fmt.Errorf("default permissions: %w", err)
	}

	return nil
}

// SourceTypes returns the declared source types in a stable order.
func (s *Schema) SourceTypes() []string {
	types := make([]string, 0, len(s.Sources))
	for t := range s.Sources {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsMetadataField reports whether name can be used as a filter field.
func (s *Schema) IsMetadataField(name string) bool {
	return name == domain.FieldSourceType || name == domain.FieldSourceID || slices.Contains(s.MetadataFields, name)
}

// HasTextField reports whether name is a declared text field.
func (s *Schema) HasTextField(name string) bool {
	return slices.Contains(s.TextFields, name)
}

// TitleField returns the field used for title matching: "title" when declared,
// otherwise the first text field.
func (s *Schema) TitleField() string {
	if s.HasTextField(domain.FieldTitle) {
		return domain.FieldTitle
	}
	return s.TextFields[0]
}

// CheckFilterFields rejects filters on undeclared metadata fields.
func (s *Schema) CheckFilterFields(filters domain.Filters) error {
	for field, f := range filters {
		if !s.IsMetadataField(field) {
			return invalid("unknown metadata field %q", field)
		}
		if field == domain.FieldModified {
			if err := domain.CheckModifiedFilter(f); err != nil {
				return invalid("%v", err)
			}
		}
	}
	return nil
}

func isReserved(name string) bool {
	return name == domain.FieldSourceType || name == domain.FieldSourceID || name == domain.FieldModified
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchema, fmt.Sprintf(format, args...))
}

package schema

import (
	"fmt"

	"github.com/sha1n/relic-search/internal/domain"
	"gopkg.in/yaml.v3"
)

// FieldMapping copies a record field (Source) into an index field (Target).
type FieldMapping struct {
	Target string
	Source string
}

// UnmarshalYAML accepts either a bare field name (identity mapping) or a
// single-entry map {target: source}.
func (f *FieldMapping) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		f.Target = node.Value
		f.Source = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: field alias must have exactly one entry", node.Line)
		}
		f.Target = node.Content[0].Value
		f.Source = node.Content[1].Value
		return nil
	default:
		return fmt.Errorf("line %d: invalid field definition", node.Line)
	}
}

// SourceMapping describes how records of one source type become documents.
type SourceMapping struct {
	// Fields lists the record fields to fetch and how they map to index fields.
	Fields []FieldMapping `yaml:"fields"`

	// Filters restricts which records are eligible for indexing.
	Filters Conditions `yaml:"filters"`
}

// Resolve returns the record field that feeds the index field target.
// Explicit aliases win over identity entries.
func (m *SourceMapping) Resolve(target string) (string, bool) {
	for _, f := range m.Fields {
		if f.Target == target && f.Source != f.Target {
			return f.Source, true
		}
	}
	for _, f := range m.Fields {
		if f.Target == target {
			return f.Source, true
		}
	}
	return "", false
}

// SourceFields returns the distinct record fields referenced by the mapping.
func (m *SourceMapping) SourceFields() []string {
	seen := make(map[string]bool, len(m.Fields))
	out := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if !seen[f.Source] {
			seen[f.Source] = true
			out = append(out, f.Source)
		}
	}
	return out
}

// UnresolvedTextFields lists the text fields that no record field feeds.
func (m *SourceMapping) UnresolvedTextFields(textFields []string) []string {
	var missing []string
	for _, tf := range textFields {
		if _, ok := m.Resolve(tf); !ok {
			missing = append(missing, tf)
		}
	}
	return missing
}

// Eligible reports whether a raw record passes every filter.
func (m *SourceMapping) Eligible(record map[string]any) bool {
	return m.Filters.Match(record)
}

func (m *SourceMapping) usesModified() bool {
	_, ok := m.Resolve(domain.FieldModified)
	return ok
}

func (m *SourceMapping) validate(sourceType string) error {
	if len(m.Fields) == 0 {
		return invalid("source type %q must list at least one field", sourceType)
	}
	for _, f := range m.Fields {
		if f.Target == "" || f.Source == "" {
			return invalid("source type %q has an empty field mapping", sourceType)
		}
		if f.Target == domain.FieldSourceType || f.Target == domain.FieldSourceID {
			return invalid("source type %q cannot map reserved field %q", sourceType, f.Target)
		}
	}
	for _, c := range m.Filters {
		if err := c.validate(); err != nil {
			return invalid("source type %q: %v", sourceType, err)
		}
	}
	return nil
}

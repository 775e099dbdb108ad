package domain

import (
	"strings"
	"time"
)

// Reserved index field names. They are attached to every document regardless of
// the schema and cannot be redeclared as text or metadata fields.
const (
	FieldSourceType = "source_type"
	FieldSourceID   = "source_id"
	FieldModified   = "modified"
)

// Default text field names.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// Document is a normalized record ready to be written to the search index.
// Identity is (SourceType, SourceID); the index holds at most one document per identity.
type Document struct {
	// SourceType is the category of host record, e.g. "Task".
	SourceType string `json:"source_type"`

	// SourceID is the host identifier of the record within its source type.
	SourceID string `json:"source_id"`

	// Text holds the tokenized fields (title, content, ...), already stripped of HTML.
	Text map[string]string `json:"text"`

	// Metadata holds filterable, non-tokenized values.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Modified is the last modification time of the source record. Zero when unknown.
	Modified time.Time `json:"modified,omitzero"`
}

// NewDocument returns an empty document for the given identity.
func NewDocument(sourceType, sourceID string) *Document {
	return &Document{
		SourceType: sourceType,
		SourceID:   sourceID,
		Text:       make(map[string]string),
		Metadata:   make(map[string]string),
	}
}

// ID returns the index identifier of the document.
func (d *Document) ID() string {
	return DocumentID(d.SourceType, d.SourceID)
}

// Fields flattens the document into the field map stored in the index.
func (d *Document) Fields() map[string]any {
	fields := make(map[string]any, len(d.Text)+len(d.Metadata)+3)
	for k, v := range d.Text {
		fields[k] = v
	}
	for k, v := range d.Metadata {
		fields[k] = v
	}
	fields[FieldSourceType] = d.SourceType
	fields[FieldSourceID] = d.SourceID
	if !d.Modified.IsZero() {
		fields[FieldModified] = float64(d.Modified.Unix())
	}
	return fields
}

// DocumentID joins a source type and source id into an index identifier.
func DocumentID(sourceType, sourceID string) string {
	return sourceType + ":" + sourceID
}

// SplitDocumentID is the inverse of DocumentID. The source type never contains a colon,
// the source id may.
func SplitDocumentID(id string) (sourceType, sourceID string, ok bool) {
	sourceType, sourceID, ok = strings.Cut(id, ":")
	return sourceType, sourceID, ok && sourceType != "" && sourceID != ""
}

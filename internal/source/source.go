// Package source defines how raw records are read from the host document store.
package source

import (
	"context"
	"errors"
	"iter"
)

// ErrInvalidRecord marks a single unreadable record. Consumers skip it and
// continue; any other error ends the listing.
var ErrInvalidRecord = errors.New("invalid record")

// Record is a raw host record: a field map plus its identity.
type Record struct {
	ID     string
	Fields map[string]any
}

// Get returns a field value, or nil when absent.
func (r Record) Get(field string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[field]
}

// DocumentSource is the host document store as seen by the extractor.
type DocumentSource interface {
	// ListRecords yields every record of sourceType that satisfies conds.
	// Errors wrapping ErrInvalidRecord concern a single record.
	ListRecords(ctx context.Context, sourceType string, conds Conditions) iter.Seq2[Record, error]

	// GetRecord returns one record. The boolean is false when it does not exist.
	GetRecord(ctx context.Context, sourceType, id string) (Record, bool, error)
}

// Conditions are evaluated against a record's field map.
type Conditions interface {
	Match(fields map[string]any) bool
}

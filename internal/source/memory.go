package source

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
)

// Memory is an in-process DocumentSource. Records are listed in ID order.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
}

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]Record)}
}

// Put stores or replaces a record.
func (m *Memory) Put(sourceType string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.records[sourceType]
	if !ok {
		byID = make(map[string]Record)
		m.records[sourceType] = byID
	}
	byID[rec.ID] = Record{ID: rec.ID, Fields: maps.Clone(rec.Fields)}
}

// Delete removes a record if present.
func (m *Memory) Delete(sourceType, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[sourceType], id)
}

// ListRecords implements DocumentSource.
func (m *Memory) ListRecords(ctx context.Context, sourceType string, conds Conditions) iter.Seq2[Record, error] {
	m.mu.RLock()
	byID := m.records[sourceType]
	snapshot := make([]Record, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		snapshot = append(snapshot, byID[id])
	}
	m.mu.RUnlock()

	return func(yield func(Record, error) bool) {
		for _, rec := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if conds != nil && !conds.Match(rec.Fields) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// GetRecord implements DocumentSource.
func (m *Memory) GetRecord(ctx context.Context, sourceType, id string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sourceType][id]
	return rec, ok, nil
}

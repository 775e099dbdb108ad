package extract

import (
	"maps"
	"sync"
)

// WarningType classifies why a record was not indexed.
type WarningType string

// Warning types.
const (
	WarningInvalidDocument     WarningType = "invalid_document"
	WarningMissingTextFields   WarningType = "missing_text_fields"
	WarningMissingContentField WarningType = "missing_content_field"
	WarningMissingTitleField   WarningType = "missing_title_field"
	WarningMissingSourceType   WarningType = "missing_source_type"
	WarningMissingID           WarningType = "missing_id"
	WarningOther               WarningType = "other"
)

// MaxExamples is the number of examples kept per warning type.
const MaxExamples = 3

// Warning describes a skipped record.
type Warning struct {
	Type       WarningType `json:"type"`
	SourceType string      `json:"source_type,omitempty"`
	SourceID   string      `json:"source_id,omitempty"`
	Message    string      `json:"message"`
}

// Statistics summarises the warnings collected since the last reset.
type Statistics struct {
	Total    int                       `json:"total"`
	ByType   map[WarningType]int       `json:"by_type"`
	Examples map[WarningType][]Warning `json:"examples"`
}

// Warnings collects extraction warnings. It is safe for concurrent use.
type Warnings struct {
	mu       sync.Mutex
	total    int
	byType   map[WarningType]int
	examples map[WarningType][]Warning
	onAdd    func(Warning)
}

// NewWarnings creates an empty collector. onAdd, when non-nil, is invoked for
// every warning outside the collector lock.
func NewWarnings(onAdd func(Warning)) *Warnings {
	return &Warnings{
		byType:   make(map[WarningType]int),
		examples: make(map[WarningType][]Warning),
		onAdd:    onAdd,
	}
}

// Add records a warning.
func (w *Warnings) Add(warning Warning) {
	w.mu.Lock()
	w.total++
	w.byType[warning.Type]++
	if len(w.examples[warning.Type]) < MaxExamples {
		w.examples[warning.Type] = append(w.examples[warning.Type], warning)
	}
	w.mu.Unlock()

	if w.onAdd != nil {
		w.onAdd(warning)
	}
}

// Reset clears all counters.
func (w *Warnings) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total = 0
	clear(w.byType)
	clear(w.examples)
}

// Statistics returns a snapshot.
func (w *Warnings) Statistics() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	examples := make(map[WarningType][]Warning, len(w.examples))
	for k, v := range w.examples {
		examples[k] = append([]Warning(nil), v...)
	}
	return Statistics{
		Total:    w.total,
		ByType:   maps.Clone(w.byType),
		Examples: examples,
	}
}

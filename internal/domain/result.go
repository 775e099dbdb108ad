package domain

import "time"

// Hit is a candidate returned by the index before re-ranking.
type Hit struct {
	ID         string
	SourceType string
	SourceID   string

	// Text holds the stored (unhighlighted) text fields.
	Text map[string]string

	// Metadata holds the stored metadata fields.
	Metadata map[string]string

	// Modified is zero when the document carries no modification time.
	Modified time.Time

	// BaseScore is the engine relevance; larger means more relevant.
	BaseScore float64

	// Fragments holds highlighted fragments per text field.
	Fragments map[string][]string
}

// Result is a ranked, render-ready search result.
type Result struct {
	ID           string            `json:"id"`
	SourceType   string            `json:"source_type"`
	SourceID     string            `json:"source_id"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Modified     *time.Time        `json:"modified,omitempty"`
	BaseScore    float64           `json:"base_score"`
	Score        float64           `json:"score"`
	OriginalRank int               `json:"original_rank"`
	Rank         int               `json:"rank"`
}

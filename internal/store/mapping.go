package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/char/asciifolding"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	regexptokenizer "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/schema"
	"github.com/segmentio/encoding/json"
)

const (
	// TextAnalyzer analyzes every text field and every query.
	TextAnalyzer = "relic_text"

	// LowerKeywordAnalyzer indexes metadata values as a single lowercased term.
	LowerKeywordAnalyzer = "relic_keyword_lower"

	textTokenizer = "relic_tokens"

	// lowerSuffix names the case-insensitive companion of a metadata field.
	lowerSuffix = "__lower"
)

// LowerField returns the case-insensitive companion field used for LIKE filters.
func LowerField(field string) string {
	return field + lowerSuffix
}

// NewIndexMapping creates the Bleve index mapping for a schema.
// Text fields use the schema tokenizer, metadata fields are keywords and
// modified is numeric (unix seconds).
func NewIndexMapping(s *schema.Schema) (*mapping.IndexMappingImpl, error) {
	cfg, err := schema.ParseTokenizer(s.Tokenizer)
	if err != nil {
		return nil, err
	}

	indexMapping := bleve.NewIndexMapping()
	if err := addAnalyzers(indexMapping, cfg); err != nil {
		return nil, err
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false

	// Text fields - analyzed, stored for rendering, term vectors for highlighting
	for _, field := range s.TextFields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = TextAnalyzer
		fm.Store = true
		fm.IncludeTermVectors = true
		docMapping.AddFieldMappingsAt(field, fm)
	}

	// Identity - keyword, stored
	for _, field := range []string{domain.FieldSourceType, domain.FieldSourceID} {
		docMapping.AddFieldMappingsAt(field, keywordField(field))
	}

	// Metadata - keyword for equality, lowercased companion for LIKE
	for _, field := range s.MetadataFields {
		if field == domain.FieldModified {
			continue
		}
		lower := bleve.NewTextFieldMapping()
		lower.Name = LowerField(field)
		lower.Analyzer = LowerKeywordAnalyzer
		lower.Store = false
		lower.IncludeInAll = false
		docMapping.AddFieldMappingsAt(field, keywordField(field), lower)
	}

	// Modified - numeric, stored
	modified := bleve.NewNumericFieldMapping()
	modified.Store = true
	modified.IncludeInAll = false
	docMapping.AddFieldMappingsAt(domain.FieldModified, modified)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = TextAnalyzer
	if err := indexMapping.Validate(); err != nil {
		return nil, fmt.Errorf("invalid index mapping: %w", err)
	}
	return indexMapping, nil
}

func keywordField(name string) *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Name = name
	fm.Analyzer = keyword.Name
	fm.Store = true
	fm.IncludeInAll = false
	return fm
}

func addAnalyzers(im *mapping.IndexMappingImpl, cfg schema.TokenizerConfig) error {
	tokenizer := unicode.Name
	switch {
	case cfg.TokenChars != "":
		pattern := `[\p{L}\p{N}\p{M}_` + escapeClass(cfg.TokenChars) + `]+`
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: tokenchars %q: %v", schema.ErrInvalidSchema, cfg.TokenChars, err)
		}
		err := im.AddCustomTokenizer(textTokenizer, map[string]any{
			"type":   regexptokenizer.Name,
			"regexp": pattern,
		})
		if err != nil {
			return fmt.Errorf("failed to register tokenizer: %w", err)
		}
		tokenizer = textTokenizer
	case cfg.Base == schema.TokenizerWhitespace:
		tokenizer = whitespace.Name
	}

	text := map[string]any{
		"type":          custom.Name,
		"tokenizer":     tokenizer,
		"token_filters": []string{lowercase.Name},
	}
	if cfg.RemoveDiacritics {
		text["char_filters"] = []string{asciifolding.Name}
	}
	if err := im.AddCustomAnalyzer(TextAnalyzer, text); err != nil {
		return fmt.Errorf("failed to register text analyzer: %w", err)
	}

	err := im.AddCustomAnalyzer(LowerKeywordAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return fmt.Errorf("failed to register keyword analyzer: %w", err)
	}
	return nil
}

func escapeClass(chars string) string {
	var b strings.Builder
	for _, r := range chars {
		if strings.ContainsRune(`\]^-[`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Fingerprint identifies a mapping. An index built with a different
// fingerprint is treated as missing.
func Fingerprint(im mapping.IndexMapping) (string, error) {
	data, err := json.Marshal(im)
	if err != nil {
		return "", fmt.Errorf("failed to marshal index mapping: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// Analyzer tokenizes text the way the index does.
type Analyzer struct {
	analyzer analysis.Analyzer
}

// NewAnalyzer returns the text analyzer of a mapping built by NewIndexMapping.
func NewAnalyzer(im *mapping.IndexMappingImpl) (*Analyzer, error) {
	a := im.AnalyzerNamed(TextAnalyzer)
	if a == nil {
		return nil, fmt.Errorf("analyzer %q is not registered", TextAnalyzer)
	}
	return &Analyzer{analyzer: a}, nil
}

// Terms returns the analyzed terms of text in order, duplicates included.
func (a *Analyzer) Terms(text string) []string {
	if text == "" {
		return nil
	}
	stream := a.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, token := range stream {
		if len(token.Term) > 0 {
			terms = append(terms, string(token.Term))
		}
	}
	return terms
}

package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/sha1n/relic-search/internal/extract"
	"github.com/sha1n/relic-search/internal/metrics"
	"github.com/sha1n/relic-search/internal/store"
)

// IndexDoc re-extracts one record and updates the index. A record that no
// longer exists, fails the source filters or is rejected by validation is
// removed instead. New terms are merged into the vocabulary.
func (e *Engine) IndexDoc(ctx context.Context, sourceType, id string) (extract.Outcome, error) {
	if !e.enabled {
		return extract.OutcomeSkipped, nil
	}

	doc, outcome, err := e.extractor.ExtractOne(ctx, sourceType, id)
	if err != nil {
		return outcome, err
	}
	if outcome != extract.OutcomeFound {
		e.logger.Debug("Removing document from index", "source_type", sourceType, "id", id, "outcome", outcome)
		return outcome, e.remove(ctx, sourceType, id)
	}

	if err := e.store.Upsert(ctx, doc); err != nil {
		return outcome, writeError(err)
	}
	metrics.DocumentUpdatesTotal.WithLabelValues(e.name, "upsert").Inc()

	if err := e.vocab.Merge(ctx, e.store.Analyzer(), doc); err != nil {
		e.logger.Warn("Failed to merge document terms into vocabulary", "id", doc.ID(), "error", err)
	}
	return outcome, nil
}

// RemoveDoc deletes one document from the index. The vocabulary keeps its
// terms until the next full build.
func (e *Engine) RemoveDoc(ctx context.Context, sourceType, id string) error {
	if !e.enabled {
		return nil
	}
	if sourceType == "" || id == "" {
		return fmt.Errorf("source type and id are required")
	}
	return e.remove(ctx, sourceType, id)
}

func (e *Engine) remove(ctx context.Context, sourceType, id string) error {
	if sourceType == "" || id == "" {
		return nil
	}
	if err := e.store.Delete(ctx, sourceType, id); err != nil {
		return writeError(err)
	}
	metrics.DocumentUpdatesTotal.WithLabelValues(e.name, "delete").Inc()
	return nil
}

func writeError(err error) error {
	switch {
	case errors.Is(err, store.ErrIndexMissing):
		return ErrIndexMissing
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
}

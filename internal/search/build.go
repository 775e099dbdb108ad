package search

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/extract"
	"github.com/sha1n/relic-search/internal/metrics"
	"github.com/sha1n/relic-search/internal/store"
	"github.com/sha1n/relic-search/internal/vocab"
)

// BuildReport describes a completed full build.
type BuildReport struct {
	Generation      uint64             `json:"generation"`
	Documents       int                `json:"documents"`
	Batches         int                `json:"batches"`
	SourceTypes     map[string]int     `json:"source_types"`
	VocabularyTerms int                `json:"vocabulary_terms"`

	// VocabularyError is set when the index was swapped in but the
	// vocabulary could not be replaced. Corrections keep using the previous
	// vocabulary until the next build.
	VocabularyError string `json:"vocabulary_error,omitempty"`

	Warnings        extract.Statistics `json:"warnings"`
	Duration        time.Duration      `json:"duration"`
}

// BuildIndex rebuilds the index and the vocabulary from every source type.
// Searches keep using the previous index until the new one is swapped in.
// Any failure before the swap leaves the live index untouched.
func (e *Engine) BuildIndex(ctx context.Context) (*BuildReport, error) {
	if !e.enabled {
		return nil, ErrSearchDisabled
	}
	if !e.buildMu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer e.buildMu.Unlock()

	if err := e.acquireBuildLock(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.lock.Unlock(); err != nil {
			e.logger.Error("Failed to release build lock", "error", err)
		}
	}()

	e.setBuilding(true)
	defer e.setBuilding(false)

	start := time.Now()
	report, err := e.build(ctx)
	if err != nil {
		metrics.ObserveBuild(e.name, time.Since(start), 0, err)
		e.logger.Error("Index build failed", "error", err)
		return nil, err
	}
	report.Duration = time.Since(start)
	metrics.ObserveBuild(e.name, report.Duration, report.Documents, nil)

	e.logger.Info("Index build completed", "generation", report.Generation, "documents", report.Documents,
		"terms", report.VocabularyTerms, "warnings", report.Warnings.Total, "duration", report.Duration)
	return report, nil
}

func (e *Engine) acquireBuildLock(ctx context.Context) error {
	if e.lockTimeout > 0 {
		err := e.lock.Lock(ctx, e.lockTimeout)
		if errors.Is(err, store.ErrLockTimeout) {
			return ErrBuildInProgress
		}
		return err
	}

	acquired, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire build lock: %w", err)
	}
	if !acquired {
		return ErrBuildInProgress
	}
	return nil
}

func (e *Engine) build(ctx context.Context) (*BuildReport, error) {
	warnings := e.extractor.Warnings()
	warnings.Reset()

	terms := vocab.NewBuilder(e.store.Analyzer())
	perType := make(map[string]int)
	tally := func(doc *domain.Document) {
		terms.Add(doc)
		perType[doc.SourceType]++
	}

	stats, err := e.store.Rebuild(ctx, e.extractAll(ctx, tally))
	if err != nil {
		if errors.Is(err, store.ErrRebuildInProgress) {
			return nil, ErrBuildInProgress
		}
		return nil, fmt.Errorf("index rebuild failed: %w", err)
	}

	report := &BuildReport{
		Generation:  stats.Generation,
		Documents:   stats.Documents,
		Batches:     stats.Batches,
		SourceTypes: perType,
	}

	// The new index is live at this point; a vocabulary failure only leaves
	// corrections stale.
	if err := e.vocab.Replace(ctx, terms); err != nil {
		e.logger.Warn("Vocabulary rebuild failed, keeping the previous vocabulary", "error", err)
		report.VocabularyError = err.Error()
	} else {
		report.VocabularyTerms = terms.Len()
	}

	ws := warnings.Statistics()
	counts := make(map[string]int, len(ws.ByType))
	for t, n := range ws.ByType {
		counts[string(t)] = n
	}
	if err := e.store.SetWarnings(counts); err != nil {
		e.logger.Warn("Failed to persist warning counts", "error", err)
	}
	if ws.Total > 0 {
		e.logger.Warn("Some records were not indexed", "count", ws.Total, "by_type", counts)
	}

	report.Warnings = ws
	return report, nil
}

type extracted struct {
	doc domain.Document
	err error
}

// extractAll extracts every source type on the worker pool and yields the
// documents in arrival order. each runs on the consuming goroutine before a
// document is yielded. The first error ends the sequence and stops the
// remaining extractions.
func (e *Engine) extractAll(ctx context.Context, each func(*domain.Document)) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		items := make(chan extracted, 64)
		send := func(item extracted) bool {
			select {
			case items <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}

		go func() {
			var wg sync.WaitGroup
			defer close(items)
			defer wg.Wait()

			for _, sourceType := range e.schema.SourceTypes() {
				wg.Add(1)
				err := e.pool.Submit(func() {
					defer wg.Done()
					count := 0
					for doc, err := range e.extractor.Extract(ctx, sourceType) {
						if !send(extracted{doc: doc, err: err}) || err != nil {
							return
						}
						count++
					}
					e.logger.Debug("Extracted source type", "source_type", sourceType, "documents", count)
				})
				if err != nil {
					wg.Done()
					send(extracted{err: fmt.Errorf("failed to schedule extraction of %s: %w", sourceType, err)})
					return
				}
			}
		}()

		for item := range items {
			if item.err != nil {
				yield(domain.Document{}, item.err)
				return
			}
			each(&item.doc)
			if !yield(item.doc, nil) {
				return
			}
		}
	}
}

// EnsureIndex builds the index when it does not exist. It is what a host
// scheduler calls periodically.
func (e *Engine) EnsureIndex(ctx context.Context) (bool, error) {
	if !e.enabled || e.store.Exists() {
		return false, nil
	}
	e.logger.Info("Search index is missing, building")
	if _, err := e.BuildIndex(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// DropIndex removes the index and the vocabulary from disk. Searches fail
// with ErrIndexMissing until the next build.
func (e *Engine) DropIndex(ctx context.Context) error {
	if !e.buildMu.TryLock() {
		return ErrBuildInProgress
	}
	defer e.buildMu.Unlock()
	if err := e.acquireBuildLock(ctx); err != nil {
		return err
	}
	defer func() { _ = e.lock.Unlock() }()

	if err := e.store.Drop(); err != nil {
		return fmt.Errorf("failed to drop index: %w", err)
	}
	if err := e.vocab.Drop(); err != nil {
		return fmt.Errorf("failed to drop vocabulary: %w", err)
	}
	e.extractor.Warnings().Reset()
	e.logger.Info("Search index dropped")
	return nil
}

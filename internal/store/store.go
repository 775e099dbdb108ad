// Package store owns the on-disk full-text index.
//
// Every full rebuild writes a new generation directory next to the live one.
// The new generation is recorded in the manifest and then swapped in as the
// live one, so readers never observe a partially built index. A replaced
// generation is closed once the queries still reading it have finished.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/schema"
)

const (
	// IndexSuffix is the suffix for index directories
	IndexSuffix = ".bleve"

	// IndexPrefix prefixes every generation directory
	IndexPrefix = "index-"

	// DefaultBatchSize is the default number of documents per batch
	DefaultBatchSize = 500

	// MaxBatchBytes is the maximum text bytes per batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024
)

var (
	// ErrIndexMissing is returned when no index has been built yet.
	ErrIndexMissing = errors.New("search index does not exist")

	// ErrRebuildInProgress is returned when a rebuild is already running in this process.
	ErrRebuildInProgress = errors.New("index rebuild already in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index store is closed")
)

// Options configures a Store.
type Options struct {
	// BatchSize bounds the number of documents per write batch.
	BatchSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// BuildStats describes a completed rebuild.
type BuildStats struct {
	Generation uint64        `json:"generation"`
	Documents  int           `json:"documents"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
}

type pendingOp struct {
	id  string
	doc *domain.Document // nil means delete
}

// generation is one on-disk index. Queries hold a reader reference while
// they run.
type generation struct {
	index   bleve.Index
	readers sync.WaitGroup
}

// Store manages the generations of one search index.
type Store struct {
	dir         string
	schema      *schema.Schema
	mapping     *mapping.IndexMappingImpl
	fingerprint string
	analyzer    *Analyzer
	batchSize   int
	logger      *slog.Logger

	manifest *Manifest
	live     *generation
	closed   bool
	mu       sync.RWMutex

	rebuildMu sync.Mutex

	// pending collects writes made while a rebuild is running. They are
	// replayed on the new generation before it is swapped in.
	pendingMu sync.Mutex
	building  bool
	pending   []pendingOp
}

// Open opens the index rooted at dir, creating the directory if needed. A
// missing index, or one built from a different schema, is not an error: the
// store reports Exists() == false until Rebuild succeeds.
func Open(dir string, s *schema.Schema, opts Options) (*Store, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	im, err := NewIndexMapping(s)
	if err != nil {
		return nil, err
	}
	fingerprint, err := Fingerprint(im)
	if err != nil {
		return nil, err
	}
	analyzer, err := NewAnalyzer(im)
	if err != nil {
		return nil, err
	}
	manifest, err := LoadManifest(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, err
	}

	st := &Store{
		dir:         dir,
		schema:      s,
		mapping:     im,
		fingerprint: fingerprint,
		analyzer:    analyzer,
		batchSize:   opts.BatchSize,
		logger:      opts.Logger,
		manifest:    manifest,
	}
	if st.batchSize <= 0 {
		st.batchSize = DefaultBatchSize
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}

	if err := st.openLive(); err != nil {
		return nil, err
	}
	st.removeStaleGenerations()
	return st, nil
}

func (s *Store) openLive() error {
	state := s.manifest.State()
	if state.Generation == 0 {
		return nil
	}
	if state.Fingerprint != s.fingerprint {
		s.logger.Warn("Index was built with a different schema, a rebuild is required",
			"generation", state.Generation, "fingerprint", state.Fingerprint, "expected", s.fingerprint)
		return nil
	}

	path := s.generationPath(state.Generation)
	index, err := bleve.Open(path)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			s.logger.Warn("Index generation is missing on disk", "path", path)
			return nil
		}
		return fmt.Errorf("failed to open index: %w", err)
	}
	s.live = &generation{index: index}
	return nil
}

// generationPath returns the directory of an index generation.
func (s *Store) generationPath(gen uint64) string {
	return filepath.Join(s.dir, IndexPrefix+strconv.FormatUint(gen, 10)+IndexSuffix)
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.dir, ManifestFilename)
}

// removeStaleGenerations deletes generation directories left behind by
// interrupted rebuilds.
func (s *Store) removeStaleGenerations() {
	live := s.manifest.State().Generation
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, IndexPrefix) || !strings.HasSuffix(name, IndexSuffix) {
			continue
		}
		gen, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, IndexPrefix), IndexSuffix), 10, 64)
		if err != nil || (gen == live && s.live != nil) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("Failed to remove stale index generation", "path", name, "error", err)
		}
	}
}

// Analyzer returns the analyzer used for text fields.
func (s *Store) Analyzer() *Analyzer {
	return s.analyzer
}

// Dir returns the index root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Exists reports whether a live index is available.
func (s *Store) Exists() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live != nil
}

// State returns the manifest of the live index.
func (s *Store) State() ManifestState {
	return s.manifest.State()
}

// DocCount returns the number of documents in the live index.
func (s *Store) DocCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live == nil {
		return 0, ErrIndexMissing
	}
	return s.live.index.DocCount()
}

// Rebuild writes docs into a fresh generation and swaps it in. The sequence
// ends the rebuild early with its error; in that case, and on any other
// failure before the swap, the live index is untouched.
func (s *Store) Rebuild(ctx context.Context, docs iter.Seq2[domain.Document, error]) (stats BuildStats, err error) {
	if !s.rebuildMu.TryLock() {
		return BuildStats{}, ErrRebuildInProgress
	}
	defer s.rebuildMu.Unlock()

	start := time.Now()
	gen := s.nextGeneration()
	path := s.generationPath(gen)
	if err := os.RemoveAll(path); err != nil {
		return BuildStats{}, fmt.Errorf("failed to clear %s: %w", path, err)
	}

	index, err := bleve.New(path, s.mapping)
	if err != nil {
		return BuildStats{}, fmt.Errorf("failed to create index: %w", err)
	}

	s.setBuilding(true)
	swapped := false
	defer func() {
		if swapped {
			return
		}
		s.setBuilding(false)
		_ = index.Close()
		if rmErr := os.RemoveAll(path); rmErr != nil {
			s.logger.Warn("Failed to remove aborted index generation", "path", path, "error", rmErr)
		}
	}()

	stats = BuildStats{Generation: gen}
	batch := index.NewBatch()
	batchBytes := 0

	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := index.Batch(batch); err != nil {
			return fmt.Errorf("batch index failed: %w", err)
		}
		stats.Batches++
		batch.Reset()
		batchBytes = 0
		return nil
	}

	for doc, err := range docs {
		if err != nil {
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := batch.Index(doc.ID(), doc.Fields()); err != nil {
			s.logger.Warn("Skipping document that cannot be indexed", "id", doc.ID(), "error", err)
			continue
		}
		stats.Documents++
		batchBytes += textSize(&doc)

		if batch.Size() >= s.batchSize || batchBytes >= MaxBatchBytes {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	old, oldGen, err := s.swap(index, gen, stats.Documents)
	if err != nil {
		return stats, err
	}
	swapped = true
	if old != nil {
		s.retire(old, oldGen, gen)
	}

	stats.Duration = time.Since(start)
	s.logger.Info("Index rebuilt", "generation", gen, "documents", stats.Documents,
		"batches", stats.Batches, "duration", stats.Duration)
	return stats, nil
}

func (s *Store) nextGeneration() uint64 {
	gen := s.manifest.State().Generation + 1
	for {
		if _, err := os.Stat(s.generationPath(gen)); os.IsNotExist(err) {
			return gen
		}
		gen++
	}
}

// swap replays pending writes on the new generation, records it in the
// manifest and makes it live. It returns the replaced generation, if any,
// and its number.
func (s *Store) swap(index bleve.Index, gen uint64, documents int) (*generation, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, ErrClosed
	}

	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.building = false
	s.pendingMu.Unlock()

	for _, op := range pending {
		var err error
		if op.doc == nil {
			err = index.Delete(op.id)
		} else {
			err = index.Index(op.id, op.doc.Fields())
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to replay write for %s: %w", op.id, err)
		}
	}
	if len(pending) > 0 {
		s.logger.Debug("Replayed writes made during rebuild", "count", len(pending))
	}

	previous := s.manifest.State()
	next := ManifestState{
		Generation:  gen,
		Fingerprint: s.fingerprint,
		BuiltAt:     time.Now().UTC(),
		Documents:   documents,
	}
	s.manifest.Update(next)
	if err := s.manifest.Save(s.manifestPath()); err != nil {
		s.manifest.Update(previous)
		return nil, 0, err
	}

	old := s.live
	s.live = &generation{index: index}
	return old, previous.Generation, nil
}

// retire closes a replaced generation after its in-flight queries finish and
// removes it from disk. No new reader can reach it once it has been swapped out.
func (s *Store) retire(old *generation, number, current uint64) {
	old.readers.Wait()
	if err := old.index.Close(); err != nil {
		s.logger.Warn("Failed to close previous index generation", "error", err)
	}
	if number != current {
		if err := os.RemoveAll(s.generationPath(number)); err != nil {
			s.logger.Warn("Failed to remove previous index generation", "generation", number, "error", err)
		}
	}
}

func (s *Store) setBuilding(building bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.building = building
	if !building {
		s.pending = nil
	}
}

// Upsert inserts or replaces a single document.
func (s *Store) Upsert(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(pendingOp{id: doc.ID(), doc: doc})
}

// Delete removes a document. Deleting an absent document is not an error.
func (s *Store) Delete(ctx context.Context, sourceType, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(pendingOp{id: domain.DocumentID(sourceType, sourceID)})
}

func (s *Store) write(op pendingOp) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.live == nil {
		return ErrIndexMissing
	}

	var err error
	if op.doc == nil {
		err = s.live.index.Delete(op.id)
	} else {
		err = s.live.index.Index(op.id, op.doc.Fields())
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", op.id, err)
	}

	s.pendingMu.Lock()
	if s.building {
		s.pending = append(s.pending, op)
	}
	s.pendingMu.Unlock()
	return nil
}

// SetWarnings records extraction warning counts of the live build.
func (s *Store) SetWarnings(counts map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.manifest.State()
	state.Warnings = counts
	s.manifest.Update(state)
	return s.manifest.Save(s.manifestPath())
}

// Drop closes and deletes every generation and the manifest.
func (s *Store) Drop() error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		s.live.readers.Wait()
		if err := s.live.index.Close(); err != nil {
			s.logger.Warn("Failed to close index", "error", err)
		}
		s.live = nil
	}
	s.manifest.Update(ManifestState{})

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read index directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == ManifestFilename || (strings.HasPrefix(name, IndexPrefix) && strings.HasSuffix(name, IndexSuffix)) {
			if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}
	return nil
}

// Close releases the live index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.live == nil {
		return nil
	}
	s.live.readers.Wait()
	err := s.live.index.Close()
	s.live = nil
	return err
}

func textSize(doc *domain.Document) int {
	n := 0
	for _, v := range doc.Text {
		n += len(v)
	}
	return n
}

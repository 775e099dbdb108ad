// Package search is the entry point of the search engine. An Engine ties the
// extractor, the index store, the vocabulary, the query builder and the
// scoring pipeline of one index together.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/extract"
	"github.com/sha1n/relic-search/internal/metrics"
	"github.com/sha1n/relic-search/internal/query"
	"github.com/sha1n/relic-search/internal/schema"
	"github.com/sha1n/relic-search/internal/scoring"
	"github.com/sha1n/relic-search/internal/source"
	"github.com/sha1n/relic-search/internal/store"
	"github.com/sha1n/relic-search/internal/vocab"
)

const (
	// DefaultMaxResults caps the candidates retrieved per search.
	DefaultMaxResults = 100

	// DefaultQueryTimeout bounds a single index query.
	DefaultQueryTimeout = 10 * time.Second

	// LockFilename is the cross-process build lock inside the index directory.
	LockFilename = "build.lock"
)

var (
	// ErrIndexMissing is returned when the index has not been built.
	ErrIndexMissing = store.ErrIndexMissing

	// ErrSearchUnavailable wraps transient storage failures and timeouts.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrBuildInProgress is returned when another build holds the build lock.
	ErrBuildInProgress = errors.New("index build already in progress")

	// ErrSearchDisabled is returned by BuildIndex when search is disabled.
	ErrSearchDisabled = errors.New("search is disabled")

	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = query.ErrEmptyQuery

	// ErrUnknownFilterField is returned for filters on undeclared fields.
	ErrUnknownFilterField = query.ErrUnknownFilterField

	// ErrInvalidFilterValue is returned for filter values a field cannot take.
	ErrInvalidFilterValue = query.ErrInvalidFilterValue
)

// PermissionProvider supplies the visibility predicate of the caller. It is
// called once per search.
type PermissionProvider interface {
	VisibilityPredicate(ctx context.Context) (domain.Filters, error)
}

// PermissionFunc adapts a function to PermissionProvider.
type PermissionFunc func(ctx context.Context) (domain.Filters, error)

// VisibilityPredicate calls f.
func (f PermissionFunc) VisibilityPredicate(ctx context.Context) (domain.Filters, error) {
	return f(ctx)
}

// Options configures an Engine.
type Options struct {
	// Schema is required.
	Schema *schema.Schema

	// Source is the host document store. Required.
	Source source.DocumentSource

	// Dir is the base directory. The index lives in Dir/<index name>.
	Dir string

	// Name overrides the schema's index name.
	Name string

	// Disabled turns every operation into a no-op; searches return no results.
	Disabled bool

	// Permissions restricts searches. Nil means unrestricted.
	Permissions PermissionProvider

	BatchSize           int
	MaxResults          int
	QueryTimeout        time.Duration
	CorrectionThreshold float64

	// Workers bounds concurrent source-type extraction during a build.
	// Zero means runtime.NumCPU()/2, at least 1.
	Workers int

	// BuildLockTimeout is how long BuildIndex waits for another process's
	// build. Zero fails immediately with ErrBuildInProgress.
	BuildLockTimeout time.Duration

	// Stages are custom scoring stages run after the built-in ones.
	Stages []scoring.Stage

	// Extract configures adapters and hooks per source type.
	Extract []extract.Option

	// Now is the clock used for recency. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Engine is the search facade of one index. It is safe for concurrent use.
type Engine struct {
	name         string
	dir          string
	enabled      bool
	schema       *schema.Schema
	store        *store.Store
	vocab        *vocab.Vocabulary
	extractor    *extract.Extractor
	builder      *query.Builder
	pipeline     *scoring.Pipeline
	permissions  PermissionProvider
	pool         *ants.Pool
	lock         *store.FileLock
	lockTimeout  time.Duration
	maxResults   int
	queryTimeout time.Duration
	logger       *slog.Logger

	// buildMu serializes builds and drops within the process; the file lock
	// covers other processes.
	buildMu  sync.Mutex
	building bool
	stateMu  sync.RWMutex
}

// New opens the engine's index and vocabulary, creating the directory if
// needed. A missing index is not an error; see IndexExists.
func New(opts Options) (*Engine, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("document source cannot be nil")
	}

	e := &Engine{
		name:         opts.Name,
		enabled:      !opts.Disabled,
		schema:       opts.Schema,
		permissions:  opts.Permissions,
		lockTimeout:  opts.BuildLockTimeout,
		maxResults:   opts.MaxResults,
		queryTimeout: opts.QueryTimeout,
		logger:       opts.Logger,
	}
	if e.name == "" {
		e.name = opts.Schema.Name
	}
	if e.name == "" {
		e.name = schema.DefaultIndexName
	}
	if e.maxResults <= 0 {
		e.maxResults = DefaultMaxResults
	}
	if e.queryTimeout <= 0 {
		e.queryTimeout = DefaultQueryTimeout
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("index", e.name)
	e.dir = filepath.Join(opts.Dir, e.name)

	warnings := extract.NewWarnings(func(w extract.Warning) {
		metrics.ExtractionWarningsTotal.WithLabelValues(e.name, string(w.Type)).Inc()
	})
	extractOpts := append([]extract.Option{
		extract.WithLogger(e.logger),
		extract.WithWarnings(warnings),
	}, opts.Extract...)
	extractor, err := extract.New(opts.Schema, opts.Source, extractOpts...)
	if err != nil {
		return nil, err
	}
	e.extractor = extractor

	workers := opts.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU()/2, 1)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	e.pool = pool

	st, err := store.Open(e.dir, opts.Schema, store.Options{BatchSize: opts.BatchSize, Logger: e.logger})
	if err != nil {
		pool.Release()
		return nil, err
	}
	e.store = st

	v, err := vocab.Open(e.dir, vocab.Options{Threshold: opts.CorrectionThreshold, Logger: e.logger})
	if err != nil {
		_ = st.Close()
		pool.Release()
		return nil, err
	}
	e.vocab = v

	e.lock = store.NewFileLock(filepath.Join(e.dir, LockFilename))
	e.builder = query.NewBuilder(opts.Schema, st.Analyzer(), v)

	var pipelineOpts []scoring.Option
	pipelineOpts = append(pipelineOpts, scoring.WithLogger(e.logger))
	if opts.Now != nil {
		pipelineOpts = append(pipelineOpts, scoring.WithClock(opts.Now))
	}
	e.pipeline = scoring.New(pipelineOpts...)
	e.pipeline.Register(opts.Stages...)

	return e, nil
}

// Name returns the index name.
func (e *Engine) Name() string {
	return e.name
}

// Schema returns the engine's schema.
func (e *Engine) Schema() *schema.Schema {
	return e.schema
}

// IsSearchEnabled reports whether the engine serves searches.
func (e *Engine) IsSearchEnabled() bool {
	return e.enabled
}

// IndexExists reports whether a live index is available.
func (e *Engine) IndexExists() bool {
	return e.store.Exists()
}

// WarningStatistics summarises the extraction warnings of the last build and
// of single-document updates since. After a restart only the per-type counts
// persisted with the index are known.
func (e *Engine) WarningStatistics() extract.Statistics {
	stats := e.extractor.Warnings().Statistics()
	if stats.Total > 0 {
		return stats
	}
	for t, n := range e.store.State().Warnings {
		stats.ByType[extract.WarningType(t)] = n
		stats.Total += n
	}
	return stats
}

// Status describes the index.
type Status struct {
	Name            string         `json:"name"`
	Enabled         bool           `json:"enabled"`
	Exists          bool           `json:"exists"`
	Building        bool           `json:"building"`
	Generation      uint64         `json:"generation,omitempty"`
	Documents       uint64         `json:"documents"`
	BuiltAt         *time.Time     `json:"built_at,omitempty"`
	VocabularyTerms int            `json:"vocabulary_terms"`
	Warnings        map[string]int `json:"warnings,omitempty"`
}

// Status returns the current index status.
func (e *Engine) Status() Status {
	state := e.store.State()
	s := Status{
		Name:            e.name,
		Enabled:         e.enabled,
		Exists:          e.store.Exists(),
		Building:        e.isBuilding(),
		VocabularyTerms: e.vocab.Size(),
		Warnings:        state.Warnings,
	}
	if s.Exists {
		s.Generation = state.Generation
		if n, err := e.store.DocCount(); err == nil {
			s.Documents = n
		}
		if !state.BuiltAt.IsZero() {
			builtAt := state.BuiltAt
			s.BuiltAt = &builtAt
		}
	}
	return s
}

func (e *Engine) isBuilding() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.building
}

func (e *Engine) setBuilding(b bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.building = b
}

// Close releases the index, the vocabulary and the worker pool.
func (e *Engine) Close() error {
	e.pool.Release()
	return errors.Join(e.vocab.Close(), e.store.Close())
}

// Package vocab keeps the term dictionary used for spelling correction.
//
// Terms and their document frequencies are persisted in BadgerDB and mirrored
// in memory together with a trigram index. A full rebuild writes a new
// database next to the live one and renames it into place.
package vocab

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sha1n/relic-search/internal/domain"
)

const (
	// DirName is the live vocabulary directory under the index root.
	DirName = "vocab"

	termPrefix = "t/"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("vocabulary is closed")

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

// Infof logs at debug level; badger reports compaction progress at info.
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Options configures a Vocabulary.
type Options struct {
	// Threshold is the minimum similarity of a correction. Zero means DefaultThreshold.
	Threshold float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Vocabulary is the persistent term dictionary. It is safe for concurrent use.
type Vocabulary struct {
	root      string
	threshold float64
	logger    *slog.Logger

	mu  sync.Mutex // guards db and directory swaps
	db  *badger.DB
	lex atomic.Pointer[lexicon]
}

// Open loads the vocabulary stored under root, creating an empty one if needed.
func Open(root string, opts Options) (*Vocabulary, error) {
	v := &Vocabulary{
		root:      root,
		threshold: opts.Threshold,
		logger:    opts.Logger,
	}
	if v.threshold <= 0 {
		v.threshold = DefaultThreshold
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vocabulary directory: %w", err)
	}

	db, err := v.openDB(v.livePath())
	if err != nil {
		return nil, err
	}
	df, err := readAll(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	v.db = db
	v.lex.Store(newLexicon(df))
	return v, nil
}

func (v *Vocabulary) livePath() string {
	return filepath.Join(v.root, DirName)
}

func (v *Vocabulary) openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = &badgerLoggerAdapter{logger: v.logger}
	opts.Compression = options.None
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary store: %w", err)
	}
	return db, nil
}

func termKey(term string) []byte {
	return []byte(termPrefix + term)
}

func encodeDF(n int) []byte {
	return binary.AppendUvarint(nil, uint64(n))
}

func decodeDF(b []byte) (int, error) {
	n, size := binary.Uvarint(b)
	if size <= 0 {
		return 0, fmt.Errorf("invalid document frequency encoding")
	}
	return int(n), nil
}

func readAll(db *badger.DB) (map[string]int, error) {
	df := make(map[string]int)
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(termPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			term := string(item.Key()[len(termPrefix):])
			err := item.Value(func(val []byte) error {
				n, err := decodeDF(val)
				if err != nil {
					return fmt.Errorf("term %q: %w", term, err)
				}
				df[term] = n
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}
	return df, nil
}

// Replace swaps in the vocabulary tallied by b.
func (v *Vocabulary) Replace(ctx context.Context, b *Builder) error {
	next := v.livePath() + ".next"
	if err := os.RemoveAll(next); err != nil {
		return fmt.Errorf("failed to clear %s: %w", next, err)
	}

	db, err := v.openDB(next)
	if err != nil {
		return err
	}
	if err := writeAll(ctx, db, b.df); err != nil {
		_ = db.Close()
		_ = os.RemoveAll(next)
		return err
	}
	if err := db.Close(); err != nil {
		_ = os.RemoveAll(next)
		return fmt.Errorf("failed to close new vocabulary: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db == nil {
		_ = os.RemoveAll(next)
		return ErrClosed
	}

	live := v.livePath()
	old := live + ".old"
	if err := v.db.Close(); err != nil {
		v.logger.Warn("Failed to close vocabulary store", "error", err)
	}
	v.db = nil
	_ = os.RemoveAll(old)
	if err := os.Rename(live, old); err != nil && !os.IsNotExist(err) {
		return v.reopen(live, fmt.Errorf("failed to move vocabulary aside: %w", err))
	}
	if err := os.Rename(next, live); err != nil {
		_ = os.Rename(old, live)
		return v.reopen(live, fmt.Errorf("failed to swap vocabulary: %w", err))
	}

	db, err = v.openDB(live)
	if err != nil {
		return err
	}
	v.db = db
	v.lex.Store(newLexicon(b.df))
	if err := os.RemoveAll(old); err != nil {
		v.logger.Warn("Failed to remove previous vocabulary", "error", err)
	}
	v.logger.Info("Vocabulary rebuilt", "terms", len(b.df), "documents", b.docs)
	return nil
}

// reopen restores the live database after a failed swap and returns cause.
func (v *Vocabulary) reopen(path string, cause error) error {
	db, err := v.openDB(path)
	if err != nil {
		return errors.Join(cause, err)
	}
	v.db = db
	return cause
}

func writeAll(ctx context.Context, db *badger.DB, df map[string]int) error {
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	i := 0
	for term, n := range df {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		i++
		if err := wb.Set(termKey(term), encodeDF(n)); err != nil {
			return fmt.Errorf("failed to write term %q: %w", term, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush vocabulary: %w", err)
	}
	return nil
}

// Merge adds the terms of one document. Frequencies are never decremented;
// a full rebuild is the only way to drop terms of removed documents.
func (v *Vocabulary) Merge(ctx context.Context, terms TermSource, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	added := documentTerms(terms, doc)
	if len(added) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db == nil {
		return ErrClosed
	}

	err := v.db.Update(func(txn *badger.Txn) error {
		for term := range added {
			n := 0
			item, err := txn.Get(termKey(term))
			switch {
			case err == nil:
				if err := item.Value(func(val []byte) error {
					var decodeErr error
					n, decodeErr = decodeDF(val)
					return decodeErr
				}); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			if err := txn.Set(termKey(term), encodeDF(n+1)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge vocabulary: %w", err)
	}

	v.lex.Load().add(added)
	return nil
}

// Correct maps unknown query terms to their best vocabulary match. Terms that
// are known, too short, non-alphabetic or without a close match are absent
// from the result.
func (v *Vocabulary) Correct(terms []string) map[string]string {
	lex := v.lex.Load()
	corrections := make(map[string]string)
	for _, term := range terms {
		if _, done := corrections[term]; done {
			continue
		}
		if fixed, ok := lex.correct(term, v.threshold); ok {
			corrections[term] = fixed
		}
	}
	return corrections
}

// Frequency returns the document frequency of a term.
func (v *Vocabulary) Frequency(term string) int {
	return v.lex.Load().frequency(term)
}

// Size returns the number of distinct terms.
func (v *Vocabulary) Size() int {
	return v.lex.Load().size()
}

// Drop removes every term.
func (v *Vocabulary) Drop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db == nil {
		return ErrClosed
	}
	if err := v.db.DropAll(); err != nil {
		return fmt.Errorf("failed to drop vocabulary: %w", err)
	}
	v.lex.Store(newLexicon(nil))
	return nil
}

// Close closes the underlying store.
func (v *Vocabulary) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	return err
}

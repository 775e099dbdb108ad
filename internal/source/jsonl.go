package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cast"
)

const (
	// JSONLExtension is appended to the source type to form the file name.
	JSONLExtension = ".jsonl"

	// maxLineBytes bounds a single record line.
	maxLineBytes = 16 * 1024 * 1024
)

// IDFields are checked in order to find a record identity.
var IDFields = []string{"name", "id"}

// JSONLDir reads records from <dir>/<SourceType>.jsonl, one JSON object per
// line. A missing file is an empty source. When an ID appears more than once
// the last line wins.
type JSONLDir struct {
	dir string
}

// NewJSONLDir creates a source rooted at dir.
func NewJSONLDir(dir string) *JSONLDir {
	return &JSONLDir{dir: dir}
}

// Path returns the file backing sourceType.
func (d *JSONLDir) Path(sourceType string) string {
	return filepath.Join(d.dir, sourceType+JSONLExtension)
}

// ListRecords implements DocumentSource.
func (d *JSONLDir) ListRecords(ctx context.Context, sourceType string, conds Conditions) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		records, order, err := d.load(ctx, sourceType, yield)
		if err != nil {
			if !errors.Is(err, errStopped) {
				yield(Record{}, err)
			}
			return
		}
		for _, id := range order {
			rec := records[id]
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
func (d *JSONLDir) GetRecord(ctx context.Context, sourceType, id string) (Record, bool, error) {
	records, _, err := d.load(ctx, sourceType, nil)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[id]
	return rec, ok, nil
}

var errStopped = errors.New("iteration stopped")

// load reads the whole file keyed by ID. Invalid lines are reported through
// report when it is non-nil and skipped otherwise.
func (d *JSONLDir) load(ctx context.Context, sourceType string, report func(Record, error) bool) (map[string]Record, []string, error) {
	f, err := os.Open(d.Path(sourceType))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open %s source: %w", sourceType, err)
	}
	defer func() { _ = f.Close() }()

	records := make(map[string]Record)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		rec, err := decodeRecord(raw)
		if err != nil {
			if report != nil && !report(Record{}, fmt.Errorf("%w: %s line %d: %v", ErrInvalidRecord, sourceType, line, err)) {
				return nil, nil, errStopped
			}
			continue
		}

		key := rec.ID
		if key == "" {
			key = fmt.Sprintf("\x00%d", line) // keep records without identity distinct
		}
		if _, seen := records[key]; !seen {
			order = append(order, key)
		}
		records[key] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s source: %w", sourceType, err)
	}
	return records, order, ctx.Err()
}

func decodeRecord(raw []byte) (Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Record{}, err
	}
	for _, key := range IDFields {
		if id := cast.ToString(fields[key]); id != "" {
			return Record{ID: id, Fields: fields}, nil
		}
	}
	return Record{Fields: fields}, nil
}

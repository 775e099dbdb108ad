package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sha1n/relic-search/internal/auth"
	"github.com/sha1n/relic-search/internal/config"
	"github.com/sha1n/relic-search/internal/extract"
	mcputil "github.com/sha1n/relic-search/internal/mcp"
	"github.com/sha1n/relic-search/internal/schema"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/sha1n/relic-search/internal/source"
)

// Engine is the search engine as used by the server and the CLI.
type Engine interface {
	mcputil.Engine
	BuildIndex(ctx context.Context) (*search.BuildReport, error)
	EnsureIndex(ctx context.Context) (bool, error)
	IndexDoc(ctx context.Context, sourceType, id string) (extract.Outcome, error)
	RemoveDoc(ctx context.Context, sourceType, id string) error
	Close() error
}

// OpenEngine loads the schema file and opens the engine over the JSONL
// records in the data directory. Visibility comes from the schema's
// permissions section.
func OpenEngine(settings *config.Settings) (Engine, error) {
	s := settings.Search
	sch, err := schema.Load(s.SchemaFile)
	if err != nil {
		return nil, err
	}

	engine, err := search.New(search.Options{
		Schema:              sch,
		Source:              source.NewJSONLDir(s.DataDir),
		Dir:                 s.BaseDir,
		Name:                s.IndexName,
		Disabled:            !s.Enabled,
		Permissions:         auth.NewStaticPermissions(sch.Permissions),
		BatchSize:           s.BatchSize,
		MaxResults:          s.MaxResults,
		QueryTimeout:        s.QueryTimeout,
		CorrectionThreshold: s.CorrectionThreshold,
		Workers:             s.Workers,
		Logger:              slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open search engine: %w", err)
	}
	return engine, nil
}

func closeEngine(engine Engine) {
	if err := engine.Close(); err != nil {
		slog.Error("Failed to close search engine", "error", err)
	}
}

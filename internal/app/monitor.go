package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sha1n/relic-search/internal/search"
)

// IndexMonitor builds the index whenever it is missing.
type IndexMonitor struct {
	engine       Engine
	interval     time.Duration
	buildOnStart bool
	logger       *slog.Logger
}

// NewIndexMonitor creates a monitor checking every interval. With
// buildOnStart the index is rebuilt once before the first check.
func NewIndexMonitor(engine Engine, interval time.Duration, buildOnStart bool, logger *slog.Logger) *IndexMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexMonitor{
		engine:       engine,
		interval:     interval,
		buildOnStart: buildOnStart,
		logger:       logger,
	}
}

// Run checks the index now and then every interval until ctx is done. A
// non-positive interval checks once.
func (m *IndexMonitor) Run(ctx context.Context) {
	if m.buildOnStart {
		if _, err := m.engine.BuildIndex(ctx); err != nil {
			m.report(ctx, "Startup index build failed", err)
		}
	}
	m.check(ctx)
	if m.interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *IndexMonitor) check(ctx context.Context) {
	built, err := m.engine.EnsureIndex(ctx)
	if err != nil {
		m.report(ctx, "Index health check failed", err)
		return
	}
	if built {
		m.logger.Info("Missing index rebuilt")
	}
}

func (m *IndexMonitor) report(ctx context.Context, msg string, err error) {
	switch {
	case ctx.Err() != nil:
	case errors.Is(err, search.ErrBuildInProgress), errors.Is(err, search.ErrSearchDisabled):
		m.logger.Debug(msg, "error", err)
	default:
		m.logger.Error(msg, "error", err)
	}
}

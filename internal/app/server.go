package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sha1n/relic-search/internal/auth"
	"github.com/sha1n/relic-search/internal/config"
	mcputil "github.com/sha1n/relic-search/internal/mcp"
	"github.com/sha1n/relic-search/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// StartSSEServer serves the MCP SSE endpoint and the HTTP API until ctx is
// done, then shuts down gracefully.
func StartSSEServer(ctx context.Context, engine Engine, settings *config.Settings, version string) error {
	srv, err := NewSSEServer(engine, settings, version)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// NewSSEServer creates a new HTTP server with authentication middleware
func NewSSEServer(engine Engine, settings *config.Settings, version string) (*http.Server, error) {
	handler, err := NewRouter(engine, settings.Auth, version)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// NewRouter wires the health, metrics, MCP and API routes.
func NewRouter(engine Engine, authSettings config.AuthSettings, version string) (http.Handler, error) {
	authMiddleware, err := auth.NewMiddleware(authSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	// One MCP server per session, bound to the principal that opened it
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return mcputil.CreateServer(mcputil.ServerConfig{
			Name:      ServerName,
			Version:   version,
			Engine:    engine,
			Principal: auth.Principal(r.Context()),
		})
	}, nil)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(authMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/sse", sseHandler)

	a := &api{engine: engine, logger: slog.Default()}
	r.Route("/api", func(r chi.Router) {
		r.Get("/search", a.search)
		r.Post("/search", a.search)
		r.Post("/index/build", a.build)
		r.Get("/index/status", a.status)
		r.Put("/documents/{sourceType}/{id}", a.indexDocument)
		r.Delete("/documents/{sourceType}/{id}", a.removeDocument)
	})

	return r, nil
}

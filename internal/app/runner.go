package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/segmentio/encoding/json"
	"github.com/sha1n/relic-search/internal/config"
	mcputil "github.com/sha1n/relic-search/internal/mcp"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/spf13/pflag"
)

// ServerName is the MCP implementation name.
const ServerName = "relic-search"

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	OpenEngine        func(*config.Settings) (Engine, error)
	StartSSEServer    func(context.Context, Engine, *config.Settings, string) error
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
	LogOutput         io.Writer     // Optional: defaults to stderr
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		OpenEngine:     OpenEngine,
		StartSSEServer: StartSSEServer,
	}
}

// prepare loads and validates settings, configures logging and opens the engine.
func prepare(params RunParams, flags *pflag.FlagSet, version string) (*config.Settings, Engine, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Always log to stderr; stdout carries the stdio transport and CLI output
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	slog.SetDefault(config.NewLogger(settings, out))

	slog.Info("Starting RELIC search", "version", version)
	config.Log(settings)

	engine, err := params.OpenEngine(settings)
	if err != nil {
		return nil, nil, err
	}
	return settings, engine, nil
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, engine, err := prepare(params, flags, version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		closeEngine(engine)
	}()

	monitor := NewIndexMonitor(engine, settings.Search.HealthInterval, settings.Search.BuildOnStart, slog.Default())
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	// Start server
	if settings.Transport == config.TransportStdio {
		server := mcputil.CreateServer(mcputil.ServerConfig{
			Name:    ServerName,
			Version: version,
			Engine:  engine,
		})

		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return server.Run(ctx, transport)
	}

	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(ctx, engine, settings, version)
}

// RunBuild rebuilds the index once and writes the build report to out.
func RunBuild(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string, out io.Writer) error {
	_, engine, err := prepare(params, flags, version)
	if err != nil {
		return err
	}
	defer closeEngine(engine)

	report, err := engine.BuildIndex(ctx)
	if err != nil {
		return err
	}
	return writeIndented(out, report)
}

// RunQuery runs one search and writes the response to out.
func RunQuery(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string, req search.Request, out io.Writer) error {
	_, engine, err := prepare(params, flags, version)
	if err != nil {
		return err
	}
	defer closeEngine(engine)

	resp, err := engine.Search(ctx, req)
	if err != nil {
		return err
	}
	return writeIndented(out, resp)
}

func writeIndented(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

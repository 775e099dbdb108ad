package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sha1n/relic-search/internal/app"
	"github.com/sha1n/relic-search/internal/config"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/spf13/pflag"
)

func TestExecute_Version(t *testing.T) {
	err := Execute("1.0.0", "abc123", "relic-search", []string{"--version"})
	if err != nil {
		t.Errorf("Expected no error for --version, got: %v", err)
	}
}

func TestExecute_Help(t *testing.T) {
	err := Execute("1.0.0", "abc123", "relic-search", []string{"--help"})
	if err != nil {
		t.Errorf("Expected no error for --help, got: %v", err)
	}
}

func TestExecute_InvalidFlag(t *testing.T) {
	err := Execute("1.0.0", "abc123", "relic-search", []string{"--invalid-flag"})
	if err == nil {
		t.Error("Expected error for invalid flag")
	}
}

func TestExecute_InvalidTransport(t *testing.T) {
	err := Execute("1.0.0", "abc123", "relic-search", []string{"--transport", "invalid"})
	if err == nil {
		t.Fatal("Expected error for invalid transport")
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("Expected error about transport, got: %v", err)
	}
}

func TestExecute_QueryRequiresText(t *testing.T) {
	err := Execute("1.0.0", "abc123", "relic-search", []string{"query"})
	if err == nil {
		t.Error("Expected error for query without text")
	}
}

func TestRunMain_Success(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	// --help should succeed
	runMain([]string{"relic-search", "--help"}, mockExit)

	if exitCode != -1 {
		t.Errorf("Expected no exit call for --help, got exit code: %d", exitCode)
	}
}

func TestRunMain_Failure(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	runMain([]string{"relic-search", "--invalid"}, mockExit)

	if exitCode != 1 {
		t.Errorf("Expected exit code 1 for invalid flag, got: %d", exitCode)
	}
}

// recordingEngine captures the request of the query subcommand.
type recordingEngine struct {
	app.Engine
	req search.Request
}

func (e *recordingEngine) Search(_ context.Context, req search.Request) (*search.Response, error) {
	e.req = req
	return &search.Response{}, nil
}

func (e *recordingEngine) Close() error { return nil }

func TestQueryCommand_BuildsRequest(t *testing.T) {
	engine := &recordingEngine{}
	var loaded *pflag.FlagSet
	params := app.RunParams{
		LoadSettings: func(flags *pflag.FlagSet) (*config.Settings, error) {
			loaded = flags
			return &config.Settings{}, nil
		},
		ValidSettings: func(*config.Settings) error { return nil },
		OpenEngine:    func(*config.Settings) (app.Engine, error) { return engine, nil },
		LogOutput:     io.Discard,
	}

	cmd := newRootCommand("test", "relic-search", params)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"query", "deploy", "pipeline",
		"--title-only",
		"-f", "status=Open", "--filter", "status=Done",
		"--like", "owner=ali",
		"--search-schema-file", "/tmp/schema.yaml",
	})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if engine.req.Query != "deploy pipeline" {
		t.Errorf("Expected query 'deploy pipeline', got %q", engine.req.Query)
	}
	if !engine.req.TitleOnly {
		t.Error("Expected title only")
	}
	if got := engine.req.Filters["status"].Values; len(got) != 2 || got[0] != "Open" || got[1] != "Done" {
		t.Errorf("Unexpected status filter: %v", got)
	}
	if !engine.req.Filters["owner"].Like {
		t.Error("Expected like filter on owner")
	}
	if f := loaded.Lookup("search-schema-file"); f == nil || f.Value.String() != "/tmp/schema.yaml" {
		t.Error("Expected inherited search flags to reach settings")
	}
	if !strings.Contains(out.String(), `"results"`) {
		t.Errorf("Expected JSON response, got: %s", out.String())
	}
}

func TestQueryCommand_InvalidFilters(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing value separator", []string{"query", "x", "-f", "status"}},
		{"exact and like on one field", []string{"query", "x", "-f", "owner=a", "--like", "owner=b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCommand("test", "relic-search", app.RunParams{})
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(tt.args)
			if err := cmd.Execute(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

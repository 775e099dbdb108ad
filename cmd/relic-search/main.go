package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sha1n/relic-search/internal/app"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "relic-search"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(version, programName, app.DefaultRunParams())
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, programName string, params app.RunParams) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "RELIC search server",
		Long:    "Full-text search with spelling correction over host records, served over MCP and HTTP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWithDeps(cmd.Context(), params, cmd.Flags(), version)
		},
	}
	rootCmd.SetVersionTemplate(`{{.Version}}
`)
	app.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newBuildCommand(version, params), newQueryCommand(version, params))
	return rootCmd
}

func newBuildCommand(version string, params app.RunParams) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Rebuild the search index and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunBuild(cmd.Context(), params, cmd.Flags(), version, cmd.OutOrStdout())
		},
	}
}

func newQueryCommand(version string, params app.RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one search and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := queryRequest(cmd, args)
			if err != nil {
				return err
			}
			return app.RunQuery(cmd.Context(), params, cmd.Flags(), version, req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("title-only", false, "Match titles only")
	cmd.Flags().StringArrayP("filter", "f", nil, "Exact metadata filter field=value (repeatable)")
	cmd.Flags().StringArray("like", nil, "Substring metadata filter field=value (repeatable)")
	return cmd
}

// queryRequest builds a search request from the query command line.
// Repeated filters on one field are combined as alternatives.
func queryRequest(cmd *cobra.Command, args []string) (search.Request, error) {
	req := search.Request{Query: strings.Join(args, " ")}
	req.TitleOnly, _ = cmd.Flags().GetBool("title-only")

	exact, _ := cmd.Flags().GetStringArray("filter")
	like, _ := cmd.Flags().GetStringArray("like")
	if len(exact)+len(like) == 0 {
		return req, nil
	}

	req.Filters = make(domain.Filters)
	add := func(specs []string, isLike bool) error {
		for _, spec := range specs {
			field, value, ok := strings.Cut(spec, "=")
			if !ok || field == "" {
				return fmt.Errorf("invalid filter %q, expected field=value", spec)
			}
			f, exists := req.Filters[field]
			if exists && f.Like != isLike {
				return fmt.Errorf("field %q has both exact and like filters", field)
			}
			f.Like = isLike
			f.Values = append(f.Values, value)
			req.Filters[field] = f
		}
		return nil
	}
	if err := add(exact, false); err != nil {
		return req, err
	}
	if err := add(like, true); err != nil {
		return req, err
	}
	return req, nil
}

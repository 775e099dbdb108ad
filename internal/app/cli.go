package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	RegisterSearchFlags(flags)
}

// RegisterSearchFlags registers the flags that configure the search engine.
// They are shared by every subcommand.
func RegisterSearchFlags(flags *pflag.FlagSet) {
	flags.Bool("search-enabled", true, "Enable search")
	flags.String("search-index-name", "", "Index name (defaults to the schema name)")
	flags.String("search-base-dir", "", "Base directory for indexes")
	flags.StringP("search-schema-file", "s", "", "Schema file (YAML)")
	flags.StringP("search-data-dir", "d", "", "Directory of <SourceType>.jsonl record files")
	flags.Int("search-batch-size", 0, "Documents per index batch")
	flags.Int("search-max-results", 0, "Maximum results per search")
	flags.Duration("search-query-timeout", 0, "Index query timeout")
	flags.Duration("search-health-interval", 0, "Interval between index health checks (0 disables)")
	flags.Bool("search-build-on-start", false, "Rebuild the index at startup")
	flags.Float64("search-correction-threshold", 0, "Minimum similarity for spelling corrections")
	flags.Int("search-workers", 0, "Concurrent source type extractions during a build")
}

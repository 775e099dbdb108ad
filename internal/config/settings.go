package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "RELIC_SEARCH"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Transport constants
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SearchSettings configuration for the search index
type SearchSettings struct {
	Enabled             bool          `mapstructure:"enabled"`
	IndexName           string        `mapstructure:"index_name"`
	BaseDir             string        `mapstructure:"base_dir"`
	SchemaFile          string        `mapstructure:"schema_file"`
	DataDir             string        `mapstructure:"data_dir"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxResults          int           `mapstructure:"max_results"`
	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	BuildOnStart        bool          `mapstructure:"build_on_start"`
	CorrectionThreshold float64       `mapstructure:"correction_threshold"`
	Workers             int           `mapstructure:"workers"`
}

// Settings application settings
type Settings struct {
	Transport string         `mapstructure:"transport"`
	Host      string         `mapstructure:"host"`
	Port      int            `mapstructure:"port"`
	LogLevel  string         `mapstructure:"log_level"`
	LogFormat string         `mapstructure:"log_format"`
	Auth      AuthSettings   `mapstructure:"auth"`
	Search    SearchSettings `mapstructure:"search"`
}

// flagKeys maps CLI flag names to settings keys.
var flagKeys = map[string]string{
	"transport":                   "transport",
	"host":                        "host",
	"port":                        "port",
	"log-level":                   "log_level",
	"log-format":                  "log_format",
	"auth-type":                   "auth.type",
	"auth-basic-username":         "auth.basic.username",
	"auth-basic-password":         "auth.basic.password",
	"auth-api-keys":               "auth.api_keys",
	"search-enabled":              "search.enabled",
	"search-index-name":           "search.index_name",
	"search-base-dir":             "search.base_dir",
	"search-schema-file":          "search.schema_file",
	"search-data-dir":             "search.data_dir",
	"search-batch-size":           "search.batch_size",
	"search-max-results":          "search.max_results",
	"search-query-timeout":        "search.query_timeout",
	"search-health-interval":      "search.health_interval",
	"search-build-on-start":       "search.build_on_start",
	"search-correction-threshold": "search.correction_threshold",
	"search-workers":              "search.workers",
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", TransportStdio)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", LogFormatText)
	v.SetDefault("auth.type", AuthTypeNone)

	// Search defaults
	v.SetDefault("search.enabled", true)
	v.SetDefault("search.index_name", "")
	v.SetDefault("search.base_dir", defaultBaseDir())
	v.SetDefault("search.schema_file", "schema.yaml")
	v.SetDefault("search.data_dir", "data")
	v.SetDefault("search.batch_size", 500)
	v.SetDefault("search.max_results", 100)
	v.SetDefault("search.query_timeout", 10*time.Second)
	v.SetDefault("search.health_interval", 5*time.Minute)
	v.SetDefault("search.build_on_start", false)
	v.SetDefault("search.correction_threshold", 0.6)
	v.SetDefault("search.workers", 4)

	// Environment variables, e.g. RELIC_SEARCH_SEARCH_BATCH_SIZE
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are not picked up by AutomaticEnv during Unmarshal
	for _, key := range flagKeys {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(EnvPrefix + "_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.Search.BaseDir = expandHomeDir(settings.Search.BaseDir)
	settings.Search.SchemaFile = expandHomeDir(settings.Search.SchemaFile)
	settings.Search.DataDir = expandHomeDir(settings.Search.DataDir)

	return &settings, nil
}

// defaultBaseDir returns the default directory for search indexes
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relic-search"
	}
	return filepath.Join(home, ".relic-search")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case TransportStdio, TransportSSE:
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	switch s.LogFormat {
	case LogFormatText, LogFormatJSON, "":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.LogFormat)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	return validateSearchSettings(&s.Search)
}

// validateSearchSettings validates the search configuration
func validateSearchSettings(g *SearchSettings) error {
	if g.BaseDir == "" {
		return errors.New("search-base-dir cannot be empty")
	}
	if g.SchemaFile == "" {
		return errors.New("search-schema-file cannot be empty")
	}
	if g.BatchSize <= 0 {
		return errors.New("search-batch-size must be positive")
	}
	if g.MaxResults <= 0 {
		return errors.New("search-max-results must be positive")
	}
	if g.QueryTimeout <= 0 {
		return errors.New("search-query-timeout must be positive")
	}
	if g.HealthInterval < 0 {
		return errors.New("search-health-interval cannot be negative")
	}
	if g.CorrectionThreshold <= 0 || g.CorrectionThreshold > 1 {
		return fmt.Errorf("search-correction-threshold must be in (0, 1], got: %v", g.CorrectionThreshold)
	}
	if g.Workers <= 0 {
		return errors.New("search-workers must be positive")
	}
	return nil
}

// ParseLogLevel converts a level name into a slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", name, err)
	}
	return level, nil
}

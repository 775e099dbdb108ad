package config

import (
	"context"
	"io"
	"log/slog"
)

// NewLogger builds the process logger from the log level and format settings.
func NewLogger(s *Settings, w io.Writer) *slog.Logger {
	level, err := ParseLogLevel(s.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == TransportSSE {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: search.enabled", "value", s.Search.Enabled)
	if !s.Search.Enabled {
		return
	}
	logger.InfoContext(ctx, "Config: search", "value", SearchSettingsLogValue(s.Search))
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// SearchSettingsLogValue returns a slog.Value for SearchSettings
func SearchSettingsLogValue(s SearchSettings) slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", s.Enabled),
		slog.String("index_name", s.IndexName),
		slog.String("base_dir", s.BaseDir),
		slog.String("schema_file", s.SchemaFile),
		slog.String("data_dir", s.DataDir),
		slog.Int("batch_size", s.BatchSize),
		slog.Int("max_results", s.MaxResults),
		slog.Duration("query_timeout", s.QueryTimeout),
		slog.Duration("health_interval", s.HealthInterval),
		slog.Bool("build_on_start", s.BuildOnStart),
		slog.Float64("correction_threshold", s.CorrectionThreshold),
		slog.Int("workers", s.Workers),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("log_level", s.LogLevel),
		slog.String("log_format", s.LogFormat),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("search", SearchSettingsLogValue(s.Search)),
	)
}

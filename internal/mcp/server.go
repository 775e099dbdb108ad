package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/relic-search/internal/search"
)

// Engine is the part of the search engine exposed as MCP tools.
type Engine interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Status() search.Status
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Engine backs the tools. No tools are registered when it is nil.
	Engine Engine

	// Principal is the authenticated caller of the session. Empty means
	// anonymous.
	Principal string
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Engine != nil {
		RegisterSearchTool(s, cfg.Engine, cfg.Principal)
		RegisterStatusTool(s, cfg.Engine)
	}

	return s
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/relic-search/internal/auth"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/search"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query     string         `json:"query" jsonschema:"Words to search for. Misspelled words are corrected."`
	TitleOnly bool           `json:"title_only,omitempty" jsonschema:"Match titles only"`
	Filters   map[string]any `json:"filters,omitempty" jsonschema:"Metadata filters. A value, a list of values, or {\"like\": value} for substring matches."`
}

// SearchHandler handles the search MCP tool.
type SearchHandler struct {
	engine    Engine
	principal string
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(engine Engine, principal string) *SearchHandler {
	return &SearchHandler{
		engine:    engine,
		principal: principal,
	}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	filters, err := toFilters(args.Filters)
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid filters: %s", err)), nil, nil
	}

	if h.principal != "" {
		ctx = auth.WithPrincipal(ctx, h.principal)
	}

	resp, err := h.engine.Search(ctx, search.Request{
		Query:     args.Query,
		TitleOnly: args.TitleOnly,
		Filters:   filters,
	})
	switch {
	case errors.Is(err, search.ErrIndexMissing):
		return errorResult("Search is not available. The index has not been built yet. Please try again later."), nil, nil
	case errors.Is(err, search.ErrSearchUnavailable):
		return errorResult("Search is temporarily unavailable. Please try again later."), nil, nil
	case err != nil:
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return formatResults(resp, args.Query), nil, nil
}

func toFilters(raw map[string]any) (domain.Filters, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(domain.Filters, len(raw))
	for field, value := range raw {
		f, err := domain.FilterFromValue(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		filters[field] = f
	}
	return filters, nil
}

// formatResults formats search results for MCP response.
func formatResults(resp *search.Response, queryStr string) *mcp.CallToolResult {
	var sb strings.Builder
	if resp.Summary.CorrectedQuery != nil {
		sb.WriteString(fmt.Sprintf("Showing results for '%s'\n\n", *resp.Summary.CorrectedQuery))
	}

	if len(resp.Results) == 0 {
		sb.WriteString(fmt.Sprintf("No results found for query: %s", queryStr))
		return textResult(sb.String())
	}

	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", resp.Summary.TotalMatches, queryStr))
	for _, r := range resp.Results {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", r.Rank, r.Title))
		sb.WriteString(fmt.Sprintf("**Source**: %s/%s\n", r.SourceType, r.SourceID))
		sb.WriteString(fmt.Sprintf("**Score**: %.4f\n", r.Score))
		if r.Modified != nil {
			sb.WriteString(fmt.Sprintf("**Modified**: %s\n", r.Modified.Format("2006-01-02")))
		}
		sb.WriteString("\n")
		if r.Content != "" {
			sb.WriteString(r.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if shown := uint64(len(resp.Results)); resp.Summary.TotalMatches > shown {
		sb.WriteString(fmt.Sprintf("... and %d more results\n", resp.Summary.TotalMatches-shown))
	}

	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_documents",
		Description: "Full-text search across indexed documents, with spelling correction and metadata filters",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, engine Engine, principal string) {
	handler := NewSearchHandler(engine, principal)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}

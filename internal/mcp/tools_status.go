package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/segmentio/encoding/json"
)

// StatusArgument takes no parameters.
type StatusArgument struct{}

// StatusHandler handles the index status MCP tool.
type StatusHandler struct {
	engine Engine
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(engine Engine) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// Handle returns the index status as indented JSON.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgument) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(h.engine.Status(), "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to encode status: %s", err)), nil, nil
	}
	return textResult(string(data)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "index_status",
		Description: "Report whether the search index exists, its size, last build time and extraction warnings",
	}
}

// RegisterStatusTool registers the status tool with an MCP server.
func RegisterStatusTool(server *mcp.Server, engine Engine) {
	handler := NewStatusHandler(engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

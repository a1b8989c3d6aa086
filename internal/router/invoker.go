package router

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"toolplane/internal/catalog"
	"toolplane/internal/lifecycle"
)

// ToolInvoker executes a selected tool against its owning provider.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool catalog.Tool, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// MCPInvoker calls tools over the same MCP sessions the catalog uses for
// discovery.
type MCPInvoker struct {
	machine *lifecycle.Machine
	lister  *catalog.MCPLister
}

// NewMCPInvoker returns an invoker sharing the lister's connection cache.
func NewMCPInvoker(machine *lifecycle.Machine, lister *catalog.MCPLister) *MCPInvoker {
	return &MCPInvoker{machine: machine, lister: lister}
}

func (i *MCPInvoker) Invoke(ctx context.Context, tool catalog.Tool, args map[string]interface{}) (*mcp.CallToolResult, error) {
	view, err := i.machine.Status(tool.OwnerService)
	if err != nil {
		return nil, fmt.Errorf("owner of %s: %w", tool.ID, err)
	}
	return i.lister.CallTool(ctx, *view.Definition, tool.Name, args)
}

package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"toolplane/internal/config"
	"toolplane/pkg/logging"
)

// ToolLister retrieves the tool inventory a provider currently exposes.
// The production implementation speaks MCP over streamable HTTP; tests
// substitute a fake.
type ToolLister interface {
	ListTools(ctx context.Context, def config.ServiceDefinition) ([]mcp.Tool, error)
}

// MCPLister lists tools by connecting to each provider's MCP endpoint.
// Connections are cached per service and re-dialed after a failure.
type MCPLister struct {
	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewMCPLister returns a lister with an empty connection cache.
func NewMCPLister() *MCPLister {
	return &MCPLister{clients: make(map[string]*client.Client)}
}

// ListTools connects to the provider (reusing a cached session when one
// exists) and returns its advertised tools.
func (l *MCPLister) ListTools(ctx context.Context, def config.ServiceDefinition) ([]mcp.Tool, error) {
	c, err := l.clientFor(ctx, def)
	if err != nil {
		return nil, err
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		l.drop(def.Name)
		return nil, fmt.Errorf("failed to list tools for %s: %w", def.Name, err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the provider that owns it.
func (l *MCPLister) CallTool(ctx context.Context, def config.ServiceDefinition, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	c, err := l.clientFor(ctx, def)
	if err != nil {
		return nil, err
	}

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		l.drop(def.Name)
		return nil, fmt.Errorf("failed to call tool %s on %s: %w", name, def.Name, err)
	}
	return result, nil
}

// Close shuts down every cached session.
func (l *MCPLister) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, c := range l.clients {
		if err := c.Close(); err != nil {
			logging.Debug("Catalog", "Error closing MCP client for %s: %v", name, err)
		}
		delete(l.clients, name)
	}
}

func (l *MCPLister) clientFor(ctx context.Context, def config.ServiceDefinition) (*client.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[def.Name]; ok {
		return c, nil
	}

	url := fmt.Sprintf("http://localhost:%d/mcp", def.Port)
	logging.Debug("Catalog", "Creating MCP client for %s at %s", def.Name, url)

	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", def.Name, err)
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "toolplane",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session for %s: %w", def.Name, err)
	}

	l.clients[def.Name] = c
	return c, nil
}

func (l *MCPLister) drop(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[name]; ok {
		c.Close()
		delete(l.clients, name)
	}
}

// Package mcpserver exposes the tool registry over the Model Context Protocol
// so an external agent CLI can act as the worker.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memorialsite/agentgw/internal/tools"
)

// Server wraps an MCP server whose tools are backed by a Registry.
type Server struct {
	mcp      *server.MCPServer
	registry *tools.Registry
}

// New registers every tool of registry on a fresh MCP server.
func New(name, version string, registry *tools.Registry) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		registry: registry,
	}
	for _, t := range registry.List() {
		s.mcp.AddTool(toMCPTool(t), s.handler(t.Name()))
	}
	return s
}

// ServeStdio blocks serving JSON-RPC over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := s.registry.Invoke(ctx, name, req.GetArguments())
		if res.IsError() {
			slog.Warn("MCP tool call failed", "tool", name, "error", res.Error)
			return mcp.NewToolResultError(res.Error), nil
		}
		return mcp.NewToolResultText(string(res.OK)), nil
	}
}

func toMCPTool(t tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}
	schema := t.Schema()
	for _, name := range schema.Names() {
		p := schema[name]
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Kind {
		case tools.KindBoolean:
			opts = append(opts, mcp.WithBoolean(name, props...))
		case tools.KindNumber, tools.KindInteger:
			opts = append(opts, mcp.WithNumber(name, props...))
		case tools.KindObject:
			opts = append(opts, mcp.WithObject(name, props...))
		default:
			opts = append(opts, mcp.WithString(name, props...))
		}
	}
	return mcp.NewTool(t.Name(), opts...)
}

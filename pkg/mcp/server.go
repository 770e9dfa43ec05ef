package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/camel/pkg/tools"
)

// Server publishes a tools.Registry over MCP.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a server exposing every tool in reg.
func NewServer(name, version string, reg *tools.Registry) (*Server, error) {
	s := &Server{mcpServer: server.NewMCPServer(name, version)}
	specs, err := reg.Specs(context.Background())
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		s.mcpServer.AddTool(toolFromSpec(spec), handler(reg, spec.Name))
	}
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func toolFromSpec(spec tools.Spec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for _, p := range spec.Params {
		var popts []mcp.PropertyOption
		if p.Description != "" {
			popts = append(popts, mcp.Description(p.Description))
		}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case "integer", "number":
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(p.Name, popts...))
		case "array":
			opts = append(opts, mcp.WithArray(p.Name, popts...))
		case "object":
			opts = append(opts, mcp.WithObject(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(spec.Name, opts...)
}

func handler(reg *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		res, err := reg.Execute(ctx, name, args)
		if err != nil {
			return nil, err
		}
		text, ok := res.Content.(string)
		if !ok {
			raw, err := json.Marshal(res.Content)
			if err != nil {
				return nil, fmt.Errorf("encode %s result: %w", name, err)
			}
			text = string(raw)
		}
		if res.IsError {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

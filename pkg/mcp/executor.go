package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/camel/pkg/tools"
)

// ToolCaller is the part of Client the executor needs.
type ToolCaller interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Executor exposes the tools of one MCP server as a tools.Executor.
type Executor struct {
	caller ToolCaller
	prefix string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPrefix namespaces the server's tools as prefix + name.
func WithPrefix(prefix string) ExecutorOption {
	return func(e *Executor) { e.prefix = prefix }
}

// NewExecutor returns an executor backed by caller.
func NewExecutor(caller ToolCaller, opts ...ExecutorOption) (*Executor, error) {
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	e := &Executor{caller: caller}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Executor) lookup(ctx context.Context, name string) (mcp.Tool, bool, error) {
	if !strings.HasPrefix(name, e.prefix) {
		return mcp.Tool{}, false, nil
	}
	list, err := e.caller.ListTools(ctx)
	if err != nil {
		return mcp.Tool{}, false, err
	}
	remote := strings.TrimPrefix(name, e.prefix)
	i := slices.IndexFunc(list, func(t mcp.Tool) bool { return t.Name == remote })
	if i < 0 {
		return mcp.Tool{}, false, nil
	}
	return list[i], true, nil
}

// Execute calls the named tool. A transport failure is returned as an
// error; a failure reported by the tool is a Result with IsError set.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	tool, ok, err := e.lookup(ctx, name)
	if err != nil {
		return tools.Result{}, err
	}
	if !ok {
		return tools.Result{}, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	for _, key := range tool.InputSchema.Required {
		if _, ok := args[key]; !ok {
			return tools.Errorf("missing required argument %q", key), nil
		}
	}
	res, err := e.caller.CallTool(ctx, tool.Name, args)
	if err != nil {
		return tools.Result{}, err
	}
	return resultFromMCP(res)
}

// Specs describes the server's tools.
func (e *Executor) Specs(ctx context.Context) ([]tools.Spec, error) {
	list, err := e.caller.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Spec, 0, len(list))
	for _, t := range list {
		s, err := specFromTool(t)
		if err != nil {
			return nil, err
		}
		s.Name = e.prefix + s.Name
		out = append(out, s)
	}
	return out, nil
}

func specFromTool(t mcp.Tool) (tools.Spec, error) {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(t.InputSchema); err != nil {
			return tools.Spec{}, fmt.Errorf("mcp tool %s: %w", t.Name, err)
		}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return tools.Spec{}, fmt.Errorf("mcp tool %s: invalid input schema: %w", t.Name, err)
	}
	return tools.SpecFromJSONSchema(t.Name, t.Description, schema), nil
}

func resultFromMCP(result *mcp.CallToolResult) (tools.Result, error) {
	if result == nil {
		return tools.Result{}, errors.New("mcp tool result is nil")
	}
	text := extractTextContent(result.Content)
	if result.IsError {
		return tools.Result{Content: text, IsError: true}, nil
	}
	if result.StructuredContent != nil {
		return tools.Result{Content: result.StructuredContent}, nil
	}
	return tools.Result{Content: text}, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var (
	_ tools.Executor  = (*Executor)(nil)
	_ tools.Describer = (*Executor)(nil)
)

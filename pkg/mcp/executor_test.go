package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/camel/pkg/tools"
)

type stubCaller struct {
	tools    []mcp.Tool
	calls    int
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) ListTools(context.Context) ([]mcp.Tool, error) {
	return s.tools, nil
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.calls++
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

func TestExecutorUnknownTool(t *testing.T) {
	ex, _ := NewExecutor(&stubCaller{tools: []mcp.Tool{{Name: "a"}}})
	if _, err := ex.Execute(context.Background(), "b", nil); !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecutorRequiredArgs(t *testing.T) {
	caller := &stubCaller{tools: []mcp.Tool{{
		Name:        "needs-foo",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"foo"}},
	}}}
	ex, _ := NewExecutor(caller)
	res, err := ex.Execute(context.Background(), "needs-foo", map[string]any{"bar": "baz"})
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error result, got %+v, %v", res, err)
	}
	if caller.calls != 0 {
		t.Fatalf("tool should not have been called")
	}
}

func TestExecutorResults(t *testing.T) {
	caller := &stubCaller{tools: []mcp.Tool{{Name: "structured"}}}
	ex, _ := NewExecutor(caller)

	caller.result = &mcp.CallToolResult{StructuredContent: map[string]any{"ok": true}}
	res, err := ex.Execute(context.Background(), "structured", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if m, ok := res.Content.(map[string]any); !ok || m["ok"] != true {
		t.Fatalf("expected structured payload, got %v", res.Content)
	}

	caller.result = &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "boom"}}}
	res, err = ex.Execute(context.Background(), "structured", nil)
	if err != nil || !res.IsError || res.Content != "boom" {
		t.Fatalf("expected error result, got %+v, %v", res, err)
	}

	caller.result, caller.err = nil, errors.New("connection reset")
	if _, err := ex.Execute(context.Background(), "structured", nil); err == nil {
		t.Fatalf("expected transport error")
	}
	if caller.calls != 3 {
		t.Fatalf("expected one call per Execute, got %d", caller.calls)
	}
}

func TestSpecsUseRawSchema(t *testing.T) {
	caller := &stubCaller{tools: []mcp.Tool{{
		Name:           "search",
		Description:    "Search tool",
		RawInputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
	}}}
	ex, _ := NewExecutor(caller)
	specs, err := ex.Specs(context.Background())
	if err != nil {
		t.Fatalf("Specs: %v", err)
	}
	if len(specs) != 1 || len(specs[0].Params) != 1 || !specs[0].Params[0].Required || specs[0].Params[0].Type != "string" {
		t.Fatalf("unexpected specs %+v", specs)
	}
}

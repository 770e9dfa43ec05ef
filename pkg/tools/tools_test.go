package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	spec := Spec{Name: "echo", Params: []Param{{Name: "text", Type: "string", Required: true}}}
	r.MustRegister(spec, func(_ context.Context, args map[string]any) (Result, error) {
		return Text(args["text"].(string)), nil
	})
	if err := r.Register(spec, func(context.Context, map[string]any) (Result, error) { return Result{}, nil }); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	res, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil || res.Content != "hi" || res.IsError {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
	res, err = r.Execute(context.Background(), "echo", map[string]any{})
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error for missing argument, got %+v, %v", res, err)
	}
	if _, err := r.Execute(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"echo"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestMulti(t *testing.T) {
	a := NewStatic(StaticTool{Spec: Spec{Name: "a"}, Results: []Result{Text("from a")}})
	b := NewRegistry()
	b.MustRegister(Spec{Name: "b"}, func(context.Context, map[string]any) (Result, error) { return Text("from b"), nil })
	m := Multi{a, b}
	res, err := m.Execute(context.Background(), "b", nil)
	if err != nil || res.Content != "from b" {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
	specs, err := m.Specs(context.Background())
	if err != nil || len(specs) != 2 {
		t.Fatalf("unexpected specs %+v, %v", specs, err)
	}
	if _, err := m.Execute(context.Background(), "c", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestStaticReplaysResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	doc := `tools:
  - name: read
    description: Read a file.
    params:
      - {name: path, type: string, required: true}
    results:
      - content: first
      - content: second
        isError: true
  - name: exec
    results:
      - content: {files: [a, b]}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	var got []Result
	for i := 0; i < 3; i++ {
		res, err := s.Execute(ctx, "read", map[string]any{"path": "x"})
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		got = append(got, res)
	}
	want := []Result{{Content: "first"}, {Content: "second", IsError: true}, {Content: "second", IsError: true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	res, _ := s.Execute(ctx, "exec", nil)
	if m, ok := res.Content.(map[string]any); !ok || len(m["files"].([]any)) != 2 {
		t.Fatalf("unexpected structured content %#v", res.Content)
	}
	if len(s.Calls()) != 4 {
		t.Fatalf("expected 4 recorded calls, got %d", len(s.Calls()))
	}
	specs, _ := s.Specs(ctx)
	if specs[0].Name != "read" || !specs[0].Params[0].Required {
		t.Fatalf("unexpected specs %+v", specs)
	}
}

func TestSpecFromJSONSchema(t *testing.T) {
	s := SpecFromJSONSchema("send", " Send a message. ", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"body":   map[string]any{"type": "string", "description": "message text"},
			"urgent": map[string]any{"type": []any{"boolean", "null"}},
		},
		"required": []any{"to", "body"},
	})
	want := Spec{Name: "send", Description: "Send a message.", Params: []Param{
		{Name: "body", Type: "string", Required: true, Description: "message text"},
		{Name: "to", Type: "array", Items: "string", Required: true},
		{Name: "urgent", Type: "boolean"},
	}}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("expected %+v, got %+v", want, s)
	}
	if m := s.Missing(map[string]any{"to": []any{"a"}}); !reflect.DeepEqual(m, []string{"body"}) {
		t.Fatalf("unexpected missing %v", m)
	}
}

package tools

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticTool is a tool that replays canned results.
type StaticTool struct {
	Spec    Spec     `yaml:",inline"`
	Results []Result `yaml:"results"`
}

// Call is one recorded invocation of a static tool.
type Call struct {
	Tool string
	Args map[string]any
}

// Static is an Executor that returns canned results in order, repeating
// the last one. It records every call.
type Static struct {
	mu    sync.Mutex
	tools map[string]*StaticTool
	order []string
	next  map[string]int
	calls []Call
}

// NewStatic builds a static executor.
func NewStatic(tools ...StaticTool) *Static {
	s := &Static{tools: map[string]*StaticTool{}, next: map[string]int{}}
	for i := range tools {
		t := tools[i]
		if _, dup := s.tools[t.Spec.Name]; !dup {
			s.order = append(s.order, t.Spec.Name)
		}
		s.tools[t.Spec.Name] = &t
	}
	return s
}

// LoadStatic reads static tools from a YAML file holding a "tools" list.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools %s: %w", path, err)
	}
	var doc struct {
		Tools []StaticTool `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tools %s: %w", path, err)
	}
	for _, t := range doc.Tools {
		if t.Spec.Name == "" {
			return nil, fmt.Errorf("parse tools %s: tool without name", path)
		}
	}
	return NewStatic(doc.Tools...), nil
}

// Execute returns the next canned result for name.
func (s *Static) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	s.calls = append(s.calls, Call{Tool: name, Args: args})
	if len(t.Results) == 0 {
		return Result{Content: ""}, nil
	}
	i := s.next[name]
	if i >= len(t.Results) {
		i = len(t.Results) - 1
	}
	s.next[name] = i + 1
	return t.Results[i], nil
}

// Specs returns the specs in declaration order.
func (s *Static) Specs(context.Context) ([]Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Spec, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.tools[n].Spec)
	}
	return out, nil
}

// Calls returns the recorded calls.
func (s *Static) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

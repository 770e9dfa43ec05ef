// Package tools defines the boundary between a plan run and the tools it
// calls.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownTool is returned when no tool is registered under a name.
var ErrUnknownTool = errors.New("unknown tool")

// Result is what a tool returns. IsError marks a failure reported by the
// tool itself; Content still carries its output.
type Result struct {
	Content any  `json:"content" yaml:"content"`
	IsError bool `json:"isError,omitempty" yaml:"isError,omitempty"`
}

// Text returns a successful result with text content.
func Text(s string) Result { return Result{Content: s} }

// Errorf returns a failed result with a formatted message.
func Errorf(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Executor runs tools by name.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (Result, error)
}

// Describer lists the tools an executor offers.
type Describer interface {
	Specs(ctx context.Context) ([]Spec, error)
}

// Func implements a single tool.
type Func func(ctx context.Context, args map[string]any) (Result, error)

type entry struct {
	spec Spec
	fn   Func
}

// Registry is an Executor backed by in-process functions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]entry{}}
}

// Register adds a tool. Registering a name twice is an error.
func (r *Registry) Register(spec Spec, fn Func) error {
	if spec.Name == "" {
		return errors.New("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s: function is required", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[spec.Name]; dup {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = entry{spec: spec, fn: fn}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(spec Spec, fn Func) {
	if err := r.Register(spec, fn); err != nil {
		panic(err)
	}
}

// Execute runs the named tool after checking required parameters.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if missing := e.spec.Missing(args); len(missing) > 0 {
		return Errorf("missing required argument(s): %v", missing), nil
	}
	return e.fn(ctx, args)
}

// Specs returns the registered tool specs sorted by name.
func (r *Registry) Specs(context.Context) ([]Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.spec)
	}
	slices.SortFunc(out, func(a, b Spec) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Multi dispatches to the first executor that knows a tool. Executors that
// also implement Describer contribute their specs.
type Multi []Executor

// Execute tries each executor in order, skipping those that report
// ErrUnknownTool.
func (m Multi) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	for _, ex := range m {
		res, err := ex.Execute(ctx, name, args)
		if errors.Is(err, ErrUnknownTool) {
			continue
		}
		return res, err
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Specs concatenates the specs of every describing executor.
func (m Multi) Specs(ctx context.Context) ([]Spec, error) {
	var out []Spec
	for _, ex := range m {
		d, ok := ex.(Describer)
		if !ok {
			continue
		}
		specs, err := d.Specs(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, specs...)
	}
	return out, nil
}

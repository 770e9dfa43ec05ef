// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jllopis/camel/pkg/tools"
)

// ToolCallRecord records a tool call made during a run.
type ToolCallRecord struct {
	Name      string
	Arguments map[string]any
	Result    tools.Result
	Error     error
}

// ScriptedTools is a tools.Executor with canned results. Results for a tool
// are returned in order and the last one repeats. Unknown tools fail with
// tools.ErrUnknownTool.
type ScriptedTools struct {
	mu      sync.Mutex
	results map[string][]tools.Result
	funcs   map[string]tools.Func
	errs    map[string]error
	specs   map[string]tools.Spec
	next    map[string]int
	calls   []ToolCallRecord
}

// NewScriptedTools creates an executor with no tools.
func NewScriptedTools() *ScriptedTools {
	return &ScriptedTools{
		results: map[string][]tools.Result{},
		funcs:   map[string]tools.Func{},
		errs:    map[string]error{},
		specs:   map[string]tools.Spec{},
		next:    map[string]int{},
	}
}

// On scripts text results for a tool.
func (s *ScriptedTools) On(name string, contents ...any) *ScriptedTools {
	rs := make([]tools.Result, len(contents))
	for i, c := range contents {
		rs[i] = tools.Result{Content: c}
	}
	return s.OnResult(name, rs...)
}

// OnResult scripts full results, including error results.
func (s *ScriptedTools) OnResult(name string, results ...tools.Result) *ScriptedTools {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[name] = append(s.results[name], results...)
	s.ensureSpec(name)
	return s
}

// OnFunc computes a tool's result from its arguments.
func (s *ScriptedTools) OnFunc(name string, fn tools.Func) *ScriptedTools {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = fn
	s.ensureSpec(name)
	return s
}

// Fail makes every call to name return err as a transport failure.
func (s *ScriptedTools) Fail(name string, err error) *ScriptedTools {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[name] = err
	s.ensureSpec(name)
	return s
}

// WithSpec sets the spec reported for a tool.
func (s *ScriptedTools) WithSpec(spec tools.Spec) *ScriptedTools {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.Name] = spec
	return s
}

func (s *ScriptedTools) ensureSpec(name string) {
	if _, ok := s.specs[name]; !ok {
		s.specs[name] = tools.Spec{Name: name}
	}
}

// Execute implements tools.Executor.
func (s *ScriptedTools) Execute(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return tools.Result{}, err
	}
	s.mu.Lock()
	fn := s.funcs[name]
	failure, failing := s.errs[name]
	results, scripted := s.results[name]
	var res tools.Result
	if scripted && len(results) > 0 {
		i := min(s.next[name], len(results)-1)
		s.next[name] = i + 1
		res = results[i]
	}
	s.mu.Unlock()

	var err error
	switch {
	case failing:
		err = failure
	case fn != nil:
		res, err = fn(ctx, args)
	case !scripted:
		err = fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}

	s.mu.Lock()
	s.calls = append(s.calls, ToolCallRecord{Name: name, Arguments: args, Result: res, Error: err})
	s.mu.Unlock()
	return res, err
}

// Specs implements tools.Describer.
func (s *ScriptedTools) Specs(context.Context) ([]tools.Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tools.Spec, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Calls returns every recorded call in order.
func (s *ScriptedTools) Calls() []ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolCallRecord(nil), s.calls...)
}

// CallsTo returns the recorded calls of one tool.
func (s *ScriptedTools) CallsTo(name string) []ToolCallRecord {
	var out []ToolCallRecord
	for _, c := range s.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and result positions.
func (s *ScriptedTools) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.next = map[string]int{}
}

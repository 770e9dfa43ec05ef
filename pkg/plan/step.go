// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan defines the step AST produced by the compiler and executed
// by the interpreter, together with its JSON wire format.
package plan

// Kind identifies a step variant.
type Kind string

const (
	KindAssign Kind = "assign"
	KindUnpack Kind = "unpack"
	KindTool   Kind = "tool"
	KindQLLM   Kind = "qllm"
	KindIf     Kind = "if"
	KindFor    Kind = "for"
	KindRaise  Kind = "raise"
	KindFinal  Kind = "final"
)

// Step is one node of a plan. The set of implementations is closed: the
// interpreter switches over exactly these eight types.
type Step interface {
	Kind() Kind
	step()
}

// AssignStep binds the value of an expression to a name.
type AssignStep struct {
	SaveAs string
	Value  Expr
}

// UnpackStep destructures an iterable into several names.
type UnpackStep struct {
	Targets []string
	Value   Expr
}

// Arg is a keyword argument of a tool call.
type Arg struct {
	Name  string
	Value Expr
}

// ToolStep invokes an external tool. It is the only step that can cause a
// side effect outside the interpreter.
type ToolStep struct {
	Tool   string
	Args   []Arg
	SaveAs string
}

// QLLMStep asks the quarantined model to extract structured data.
type QLLMStep struct {
	Instruction Expr
	Input       Expr
	Schema      Schema
	SaveAs      string
}

// IfStep branches on a condition.
type IfStep struct {
	Condition Expr
	Then      []Step
	Otherwise []Step
}

// ForStep iterates over a finite iterable. Targets has more than one name
// when each item is unpacked.
type ForStep struct {
	Targets  []string
	Iterable Expr
	Body     []Step
}

// RaiseStep aborts the plan with an error value.
type RaiseStep struct {
	Error Expr
}

// FinalStep ends the plan. Text may reference variables as {{name.path}}.
type FinalStep struct {
	Text string
}

func (*AssignStep) Kind() Kind { return KindAssign }
func (*UnpackStep) Kind() Kind { return KindUnpack }
func (*ToolStep) Kind() Kind   { return KindTool }
func (*QLLMStep) Kind() Kind   { return KindQLLM }
func (*IfStep) Kind() Kind     { return KindIf }
func (*ForStep) Kind() Kind    { return KindFor }
func (*RaiseStep) Kind() Kind  { return KindRaise }
func (*FinalStep) Kind() Kind  { return KindFinal }

func (*AssignStep) step() {}
func (*UnpackStep) step() {}
func (*ToolStep) step()   {}
func (*QLLMStep) step()   {}
func (*IfStep) step()     {}
func (*ForStep) step()    {}
func (*RaiseStep) step()  {}
func (*FinalStep) step()  {}

// Format names the surface syntax a plan was compiled from.
type Format string

const (
	FormatCode Format = "code"
	FormatJSON Format = "json"
)

// Plan is a compiled, validated step list.
type Plan struct {
	Rationale string
	Steps     []Step
	Format    Format
}

// Walk visits every step depth-first in source order. Returning false from
// fn stops the walk.
func Walk(steps []Step, fn func(Step) bool) bool {
	for _, s := range steps {
		if !fn(s) {
			return false
		}
		switch n := s.(type) {
		case *IfStep:
			if !Walk(n.Then, fn) || !Walk(n.Otherwise, fn) {
				return false
			}
		case *ForStep:
			if !Walk(n.Body, fn) {
				return false
			}
		}
	}
	return true
}

// ToolNames returns the tools a plan may call, in first-use order.
func (p *Plan) ToolNames() []string {
	var names []string
	seen := map[string]bool{}
	Walk(p.Steps, func(s Step) bool {
		if t, ok := s.(*ToolStep); ok && !seen[t.Tool] {
			seen[t.Tool] = true
			names = append(names, t.Tool)
		}
		return true
	})
	return names
}

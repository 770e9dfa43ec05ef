// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package compiler turns planner output into a validated plan.
//
// Planner output must contain exactly one fenced code block. The block is
// either a restricted Python-like program or a JSON plan. The code front end
// accepts assignments, tuple unpacking, if/elif/else, for loops over finite
// iterables, raise, class declarations used as extraction schemas,
// comprehensions, conditional expressions and keyword-only tool calls. It
// rejects while, break, continue, def, lambda, imports, generator
// expressions and mutating methods.
package compiler

import (
	"errors"
	"log/slog"

	cerrors "github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/plan"
)

// Compiler compiles planner output. It is safe for concurrent use.
type Compiler struct {
	tools  map[string]bool
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithKnownTools restricts tool calls to the given names. Without it any
// name that is not a builtin is treated as a tool.
func WithKnownTools(names ...string) Option {
	return func(c *Compiler) {
		c.tools = make(map[string]bool, len(names))
		for _, n := range names {
			c.tools[n] = true
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile extracts the plan from planner output and compiles it.
func Compile(text string) (*plan.Plan, error) {
	return New().Compile(text)
}

// Compile extracts the plan from planner output and compiles it. Errors
// carry cerrors.CodeCompiler.
func (c *Compiler) Compile(text string) (*plan.Plan, error) {
	src, err := ExtractSource(text)
	if err != nil {
		return nil, wrap(err, 0)
	}
	if src.JSON {
		return c.CompileJSON([]byte(src.Body))
	}
	p, err := c.compileCode(src.Body)
	if err != nil {
		return nil, wrap(err, src.Line)
	}
	return p, nil
}

// CompileCode compiles a bare code plan.
func (c *Compiler) CompileCode(src string) (*plan.Plan, error) {
	p, err := c.compileCode(src)
	if err != nil {
		return nil, wrap(err, 0)
	}
	return p, nil
}

func (c *Compiler) compileCode(src string) (*plan.Plan, error) {
	stmts, err := parseProgram(src)
	if err != nil {
		return nil, err
	}
	lw := &lowerer{classes: map[string]plan.Schema{}, tools: c.tools}
	steps, err := lw.block(stmts)
	if err != nil {
		return nil, err
	}
	if err := validate(steps); err != nil {
		return nil, err
	}
	c.logger.Debug("plan compiled", slog.String("format", string(plan.FormatCode)), slog.Int("steps", len(steps)))
	return &plan.Plan{Steps: steps, Format: plan.FormatCode}, nil
}

// CompileJSON compiles a JSON plan document.
func (c *Compiler) CompileJSON(data []byte) (*plan.Plan, error) {
	p, err := plan.UnmarshalJSON(data)
	if err != nil {
		return nil, wrap(err, 0)
	}
	lw := &lowerer{classes: map[string]plan.Schema{}, tools: c.tools}
	if err := lw.checkSteps(p.Steps); err != nil {
		return nil, wrap(err, 0)
	}
	if err := validate(p.Steps); err != nil {
		return nil, wrap(err, 0)
	}
	c.logger.Debug("plan compiled", slog.String("format", string(plan.FormatJSON)), slog.Int("steps", len(p.Steps)))
	return p, nil
}

// Validate checks a plan built by other means against the compiler's
// rules.
func (c *Compiler) Validate(p *plan.Plan) error {
	lw := &lowerer{classes: map[string]plan.Schema{}, tools: c.tools}
	if err := lw.checkSteps(p.Steps); err != nil {
		return wrap(err, 0)
	}
	if err := validate(p.Steps); err != nil {
		return wrap(err, 0)
	}
	return nil
}

// wrap converts err into a compiler CamelError. offset shifts line numbers
// of code found inside a fenced block back to the planner output.
func wrap(err error, offset int) error {
	ce := cerrors.New(cerrors.CodeCompiler, "invalid plan", err)
	var pe *Error
	if errors.As(err, &pe) && pe.Line > 0 {
		if offset > 0 {
			ce.WithContext("output_line", pe.Line+offset)
		}
		ce.WithContext("line", pe.Line)
	}
	return ce
}

// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package interpreter executes compiled plans. Every value carries a
// capability; assignments, branches, loops, tool calls and extractions
// propagate it, and every tool call is decided by the policy engine against
// the capability of its arguments and of the control flow that reached it.
package interpreter

import (
	"context"
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/compiler"
	"github.com/jllopis/camel/pkg/core"
	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/policy"
	"github.com/jllopis/camel/pkg/qllm"
	"github.com/jllopis/camel/pkg/tools"
	"github.com/jllopis/camel/pkg/trace"
)

// State is the lifecycle state of a plan run.
type State string

const (
	StateRunning       State = "running"
	StateFinalized     State = "finalized"
	StateRaised        State = "raised"
	StateBlocked       State = "blocked"
	StateCompilerError State = "compiler_error"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether no further steps can run in s.
func (s State) Terminal() bool {
	return s != StateRunning && s != ""
}

const (
	// DefaultMaxItems bounds the size of any string or container a plan builds.
	DefaultMaxItems = 100_000
	// DefaultMaxSteps bounds the number of steps and comprehension
	// iterations of one run.
	DefaultMaxSteps = 100_000
	// RedactedText replaces values the requesting principal may not read.
	RedactedText = "[redacted]"
)

// Env holds named input values, e.g. the user's query.
type Env map[string]capability.Value

// Scanner looks for prompt-injection patterns in untrusted text.
type Scanner interface {
	Scan(ctx context.Context, text string) []string
}

// Metrics receives runtime counters.
type Metrics interface {
	RecordDecision(ctx context.Context, tool string, allowed bool)
	RecordToolCall(ctx context.Context, tool string, failed bool)
	RecordIssue(ctx context.Context, stage string)
}

// Result is the outcome of one run.
type Result struct {
	RunID string
	State State
	// Final is the rendered text of the final step.
	Final   string
	Trace   []trace.Event
	Issues  []plan.Issue
	Env     Env
	Printed []string
	// Err is a *errors.CamelError for every state but Finalized.
	Err error
}

// Blocked returns the tool events refused by policy.
func (r *Result) Blocked() []trace.Event {
	return trace.Blocked(r.Trace)
}

// Interpreter runs plans. It holds configuration only; every run gets its
// own environment, control stack and trace, so one Interpreter may serve
// concurrent runs.
type Interpreter struct {
	tools     tools.Executor
	policy    policy.Decider
	extractor qllm.Extractor
	compiler  *compiler.Compiler
	strict    bool
	promote   bool
	principal string
	store     trace.Store
	scanner   Scanner
	metrics   Metrics
	logger    *slog.Logger
	tracer    oteltrace.Tracer
	maxItems  int
	maxSteps  int
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTools sets the tool collaborator.
func WithTools(t tools.Executor) Option {
	return func(in *Interpreter) { in.tools = t }
}

// WithPolicy sets the policy decider. The default is policy.DefaultEngine.
func WithPolicy(d policy.Decider) Option {
	return func(in *Interpreter) { in.policy = d }
}

// WithExtractor sets the quarantined extractor used by qllm steps.
func WithExtractor(e qllm.Extractor) Option {
	return func(in *Interpreter) { in.extractor = e }
}

// WithCompiler sets the compiler used by Execute.
func WithCompiler(c *compiler.Compiler) Option {
	return func(in *Interpreter) { in.compiler = c }
}

// WithStrict halts a run as Blocked on the first denied tool call instead
// of recording it and continuing.
func WithStrict(strict bool) Option {
	return func(in *Interpreter) { in.strict = strict }
}

// WithPromoteVerified lets a schema-validated extraction keep the trust of
// its inputs. Without it extraction results are always untrusted.
func WithPromoteVerified(promote bool) Option {
	return func(in *Interpreter) { in.promote = promote }
}

// WithPrincipal sets the default requesting principal for final-text
// redaction. A principal in the run context takes precedence.
func WithPrincipal(p string) Option {
	return func(in *Interpreter) { in.principal = p }
}

// WithStore records every finished run's trace into s.
func WithStore(s trace.Store) Option {
	return func(in *Interpreter) { in.store = s }
}

// WithScanner annotates untrusted outputs with injection findings.
func WithScanner(s Scanner) Option {
	return func(in *Interpreter) { in.scanner = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(in *Interpreter) { in.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Interpreter) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithLimits overrides the size and step limits. Zero keeps the default.
func WithLimits(maxItems, maxSteps int) Option {
	return func(in *Interpreter) {
		if maxItems > 0 {
			in.maxItems = maxItems
		}
		if maxSteps > 0 {
			in.maxSteps = maxSteps
		}
	}
}

// New returns an interpreter. Without WithTools every tool call fails as an
// unknown tool.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		tools:    tools.NewRegistry(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("camel/interpreter"),
		maxItems: DefaultMaxItems,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.policy == nil {
		in.policy = policy.DefaultEngine()
	}
	if in.compiler == nil {
		in.compiler = compiler.New(compiler.WithLogger(in.logger))
	}
	return in
}

// Execute compiles text and runs it. A compile failure ends in
// StateCompilerError with a plan-stage issue.
func (in *Interpreter) Execute(ctx context.Context, text string, env Env) *Result {
	p, err := in.compiler.Compile(text)
	if err != nil {
		ctx, runID := core.EnsureRunID(ctx)
		issue := plan.Issue{Stage: plan.StagePlan, Message: err.Error(), Trusted: true}
		if in.metrics != nil {
			in.metrics.RecordIssue(ctx, string(plan.StagePlan))
		}
		in.logger.InfoContext(ctx, "camel.plan.compile_failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return &Result{
			RunID:  runID,
			State:  StateCompilerError,
			Issues: []plan.Issue{issue},
			Env:    Env{},
			Err:    errors.New(errors.CodeCompiler, "plan did not compile", err),
		}
	}
	return in.Run(ctx, p, env)
}

// Run executes p. env seeds the variable environment and is not modified.
func (in *Interpreter) Run(ctx context.Context, p *plan.Plan, env Env) *Result {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := in.tracer.Start(ctx, "camel.interpreter.run",
		oteltrace.WithAttributes(
			attribute.String("camel.run_id", runID),
			attribute.Int("camel.plan.steps", len(p.Steps)),
			attribute.Bool("camel.strict", in.strict),
		),
	)
	defer span.End()

	principal := in.principal
	if pr, ok := core.Principal(ctx); ok {
		principal = pr
	}
	r := &run{
		in:        in,
		runID:     runID,
		principal: principal,
		env:       maps.Clone(env),
		trace:     trace.New(runID),
		state:     StateRunning,
		maxItems:  in.maxItems,
	}
	if r.env == nil {
		r.env = Env{}
	}

	err := r.execSteps(ctx, p.Steps, "")
	res := r.finish(ctx, err)

	span.SetAttributes(
		attribute.String("camel.state", string(res.State)),
		attribute.Int("camel.trace.events", len(res.Trace)),
		attribute.Int("camel.trace.blocked", len(trace.Blocked(res.Trace))),
	)
	if in.store != nil {
		if serr := trace.RecordAll(ctx, in.store, res.Trace); serr != nil {
			in.logger.WarnContext(ctx, "camel.trace.store_failed",
				slog.String("run_id", runID),
				slog.String("error", serr.Error()),
			)
		}
	}
	in.logger.InfoContext(ctx, "camel.run.complete",
		slog.String("run_id", runID),
		slog.String("state", string(res.State)),
		slog.Int("events", len(res.Trace)),
		slog.Int("issues", len(res.Issues)),
	)
	return res
}

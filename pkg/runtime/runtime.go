// Package runtime answers user requests with the plan loop: the planning
// model writes a plan, the interpreter runs it under policy, failed plans
// are replaced a bounded number of times, and a reply is written from the
// outcome.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/camel/pkg/core"
	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/interpreter"
	"github.com/jllopis/camel/pkg/llm"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/prompt"
	"github.com/jllopis/camel/pkg/resilience"
	"github.com/jllopis/camel/pkg/telemetry"
	"github.com/jllopis/camel/pkg/tools"
)

// DefaultMaxRepairs bounds replacement plans after the first one.
const DefaultMaxRepairs = 3

// Attempt is one planned and executed plan.
type Attempt struct {
	Plan   string
	Result *interpreter.Result
}

// Response is the outcome of one request.
type Response struct {
	RunID string
	// Reply is the text for the user.
	Reply string
	// FallbackReply is set when the reply was built without the model.
	FallbackReply bool
	Attempts      []Attempt
	// Issues accumulated over every attempt, oldest first.
	Issues []plan.Issue
}

// Result returns the last attempt's result.
func (r *Response) Result() *interpreter.Result {
	if len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1].Result
}

// Runtime runs the plan loop. It is safe for concurrent use.
type Runtime struct {
	provider     llm.Provider
	providerName string
	model        string
	replyModel   string
	reply        bool
	tools        tools.Executor
	offered      func(name string) bool
	interp       *interpreter.Interpreter
	interpOpts   []interpreter.Option
	maxRepairs   int
	issueWindow  int
	retry        resilience.RetryConfig
	metrics      *telemetry.RuntimeMetrics
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTools sets the tool executor. Its specs are shown to the planner
// when it implements tools.Describer.
func WithTools(t tools.Executor) Option {
	return func(r *Runtime) { r.tools = t }
}

// WithToolFilter hides tools for which offered returns false from the
// planner, e.g. policy.Engine.Available.
func WithToolFilter(offered func(name string) bool) Option {
	return func(r *Runtime) { r.offered = offered }
}

// WithInterpreterOptions passes options to the interpreter, e.g. policy,
// extractor or strict mode.
func WithInterpreterOptions(opts ...interpreter.Option) Option {
	return func(r *Runtime) { r.interpOpts = append(r.interpOpts, opts...) }
}

// WithMaxRepairs bounds how many replacement plans are requested.
func WithMaxRepairs(n int) Option {
	return func(r *Runtime) {
		if n >= 0 {
			r.maxRepairs = n
		}
	}
}

// WithIssueWindow sets how many recent issues a repair prompt shows.
func WithIssueWindow(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.issueWindow = n
		}
	}
}

// WithReplyModel uses a different model for the final reply.
func WithReplyModel(model string) Option {
	return func(r *Runtime) { r.replyModel = model }
}

// WithModelReply turns the model-written final reply on or off. When off
// the reply is built from the outcome alone.
func WithModelReply(enabled bool) Option {
	return func(r *Runtime) { r.reply = enabled }
}

// WithProviderName names the model provider in span attributes.
func WithProviderName(name string) Option {
	return func(r *Runtime) { r.providerName = name }
}

// WithRetry sets the retry policy for planner and reply model calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(r *Runtime) { r.retry = rc }
}

// WithMetrics sets the metrics sink. It is passed on to the interpreter.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithLogger sets the logger. It is passed on to the interpreter.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a runtime planning with model on provider.
func New(provider llm.Provider, model string, opts ...Option) *Runtime {
	r := &Runtime{
		provider:    provider,
		model:       model,
		reply:       true,
		tools:       tools.NewRegistry(),
		maxRepairs:  DefaultMaxRepairs,
		issueWindow: prompt.DefaultIssueWindow,
		retry:       resilience.DefaultRetryConfig(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("camel/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.replyModel == "" {
		r.replyModel = r.model
	}
	base := []interpreter.Option{
		interpreter.WithTools(r.tools),
		interpreter.WithLogger(r.logger),
	}
	if r.metrics != nil {
		base = append(base, interpreter.WithMetrics(r.metrics))
	}
	r.interp = interpreter.New(append(base, r.interpOpts...)...)
	return r
}

// Interpreter returns the interpreter plans run on.
func (r *Runtime) Interpreter() *interpreter.Interpreter {
	return r.interp
}

// Run answers one user request. The returned error is set only when no
// plan could be obtained from the model or ctx was cancelled; failed plans
// are reported in the Response.
func (r *Runtime) Run(ctx context.Context, userPrompt string) (*Response, error) {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := r.tracer.Start(ctx, "camel.runtime.run",
		trace.WithAttributes(attribute.String(telemetry.AttrRunID, runID)),
	)
	defer span.End()
	start := time.Now()

	specs, err := r.specs(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "camel.tools.specs_failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
	system := prompt.PlannerSystem(specs)

	resp := &Response{RunID: runID}
	previous := ""
	for attempt := 0; attempt <= r.maxRepairs; attempt++ {
		if attempt > 0 {
			r.metrics.RecordRepair(ctx, attempt)
			r.logger.InfoContext(ctx, "camel.repair.start",
				slog.String("run_id", runID),
				slog.Int("attempt", attempt),
				slog.Int("issues", len(resp.Issues)),
			)
		}
		user := prompt.Planner(prompt.PlannerInput{
			UserPrompt:   userPrompt,
			Tools:        specs,
			Issues:       resp.Issues,
			IssueWindow:  r.issueWindow,
			PreviousPlan: previous,
		})
		text, err := r.complete(ctx, "camel.runtime.plan", r.model, system, user)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "planner failed")
			r.metrics.RecordError(ctx, err, "planner")
			return resp, err
		}

		attemptCtx := core.WithRunID(ctx, fmt.Sprintf("%s.%d", runID, attempt+1))
		res := r.interp.Execute(attemptCtx, text, nil)
		resp.Attempts = append(resp.Attempts, Attempt{Plan: text, Result: res})
		resp.Issues = append(resp.Issues, res.Issues...)

		if res.State == interpreter.StateCancelled {
			r.metrics.RecordRun(ctx, string(res.State))
			return resp, res.Err
		}
		if res.State == interpreter.StateFinalized {
			break
		}
		r.logger.InfoContext(ctx, "camel.plan.failed",
			slog.String("run_id", runID),
			slog.Int("attempt", attempt),
			slog.String("state", string(res.State)),
		)
		previous = text
	}

	last := resp.Result()
	span.SetAttributes(telemetry.RunResultAttributes(
		string(last.State), len(last.Trace), len(last.Blocked()), len(resp.Issues))...)
	span.SetAttributes(attribute.Int(telemetry.AttrAttempt, len(resp.Attempts)-1))
	r.metrics.RecordRun(ctx, string(last.State))
	if last.Err != nil {
		r.metrics.RecordError(ctx, last.Err, "interpreter")
	}

	outcome := prompt.Outcome{
		UserPrompt: userPrompt,
		State:      string(last.State),
		Final:      last.Final,
		Events:     last.Trace,
		Issues:     resp.Issues,
	}
	resp.Reply, resp.FallbackReply, err = r.finalReply(ctx, outcome)
	if err != nil {
		return resp, err
	}

	r.logger.InfoContext(ctx, "camel.run.finished",
		slog.String("run_id", runID),
		slog.String("state", string(last.State)),
		slog.Int("attempts", len(resp.Attempts)),
		slog.Bool("fallback_reply", resp.FallbackReply),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

func (r *Runtime) specs(ctx context.Context) ([]tools.Spec, error) {
	d, ok := r.tools.(tools.Describer)
	if !ok {
		return nil, nil
	}
	specs, err := d.Specs(ctx)
	if err != nil || r.offered == nil {
		return specs, err
	}
	var out []tools.Spec
	for _, s := range specs {
		if r.offered(s.Name) {
			out = append(out, s)
		}
	}
	return out, nil
}

// finalReply asks the reply model to answer the user and falls back to a
// reply built from the outcome when the model is disabled or fails.
func (r *Runtime) finalReply(ctx context.Context, o prompt.Outcome) (string, bool, error) {
	fallback := func(ctx context.Context, primaryErr error) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", errors.New(errors.CodeCancelled, "run cancelled", err)
		}
		if primaryErr != nil {
			r.logger.WarnContext(ctx, "camel.reply.fallback", slog.String("error", primaryErr.Error()))
		}
		return prompt.FallbackReply(o), nil
	}
	if !r.reply {
		text, err := fallback(ctx, nil)
		return text, true, err
	}
	return resilience.WithFallback(ctx, func(ctx context.Context) (string, error) {
		return r.complete(ctx, "camel.runtime.reply", r.replyModel, prompt.FinalReplySystem, prompt.FinalReply(o))
	}, fallback)
}

// complete calls the model with retries. Errors carry CodeLLMError, or
// CodeCancelled when ctx ended.
func (r *Runtime) complete(ctx context.Context, spanName, model, system, user string) (string, error) {
	ctx, span := r.tracer.Start(ctx, spanName,
		trace.WithAttributes(telemetry.LLMAttributes(model, r.providerName, 2)...),
	)
	defer span.End()
	start := time.Now()

	text, err := resilience.Retry(ctx, r.retry, func(ctx context.Context) (string, error) {
		out, err := llm.Complete(ctx, r.provider, model, system, user)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			ce := errors.New(errors.CodeLLMError, "model call failed", err)
			return "", ce.WithRecoverable(!stderrors.Is(err, llm.ErrToolCall))
		}
		return out, nil
	})
	span.SetAttributes(telemetry.LLMUsageAttributes(0, 0, float64(time.Since(start).Milliseconds()))...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return "", errors.New(errors.CodeCancelled, "run cancelled", ctx.Err())
		}
		if !errors.IsCode(err, errors.CodeLLMError) {
			err = errors.New(errors.CodeLLMError, "model call failed", err)
		}
		return "", err
	}
	return text, nil
}

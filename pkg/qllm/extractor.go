package qllm

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/llm"
	"github.com/jllopis/camel/pkg/prompt"
	"github.com/jllopis/camel/pkg/resilience"
)

// DefaultRefinements is how many times an extraction is retried with a
// refined instruction after the model reports insufficient information.
const DefaultRefinements = 1

// LLMExtractor is an Extractor backed by a chat model. Answers are parsed
// as JSON and validated against the schema with CUE.
type LLMExtractor struct {
	provider    llm.Provider
	model       string
	retry       resilience.RetryConfig
	refinements int
	log         *slog.Logger
	tracer      oteltrace.Tracer
}

// Option configures an LLMExtractor.
type Option func(*LLMExtractor)

// WithRetry sets the retry policy for transport and format errors.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(e *LLMExtractor) { e.retry = rc }
}

// WithRefinements sets how many refinement retries are made when the model
// answers have_enough_information=false. Zero disables them.
func WithRefinements(n int) Option {
	return func(e *LLMExtractor) {
		if n >= 0 {
			e.refinements = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *LLMExtractor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewLLMExtractor returns an extractor that asks model through provider.
func NewLLMExtractor(provider llm.Provider, model string, opts ...Option) *LLMExtractor {
	e := &LLMExtractor{
		provider:    provider,
		model:       model,
		retry:       resilience.DefaultRetryConfig(),
		refinements: DefaultRefinements,
		log:         slog.Default(),
		tracer:      otel.Tracer("camel/qllm"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the model id recorded on extracted values.
func (e *LLMExtractor) Model() string { return e.model }

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) (Response, error) {
	ctx, span := e.tracer.Start(ctx, "camel.qllm.extract", oteltrace.WithAttributes(
		attribute.String("camel.model", e.model),
		attribute.String("camel.schema", req.Schema.Name),
		attribute.Int("camel.schema.fields", len(req.Schema.Fields)),
	))
	defer span.End()

	attempts := 0
	for refine := 0; ; refine++ {
		user := prompt.Extraction(prompt.ExtractionInput{
			Instruction: req.Instruction,
			Input:       req.Input,
			Schema:      req.Schema,
			Refine:      refine > 0,
		})
		resp, err := resilience.Retry(ctx, e.retry, func(ctx context.Context) (Response, error) {
			attempts++
			return e.ask(ctx, req, user)
		})
		resp.Attempts = attempts
		span.SetAttributes(attribute.Int("camel.attempts", attempts))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return resp, err
		}
		if resp.HaveEnoughInformation || refine >= e.refinements {
			span.SetAttributes(attribute.Bool("camel.enough", resp.HaveEnoughInformation))
			return resp, nil
		}
		e.log.Debug("camel.qllm.refine",
			slog.String("schema", req.Schema.Name),
			slog.Int("attempt", attempts),
		)
	}
}

func (e *LLMExtractor) ask(ctx context.Context, req Request, user string) (Response, error) {
	text, err := llm.CompleteJSON(ctx, e.provider, e.model, prompt.ExtractionSystem, user)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, errors.New(errors.CodeLLMError, "extraction call failed", err).
			WithContext("model", e.model).
			WithRecoverable(!stderrors.Is(err, llm.ErrToolCall))
	}

	answer, err := ParseAnswer(text)
	if err != nil {
		return Response{}, invalidAnswer(err, e.model)
	}
	data, extra := project(req.Schema, answer)
	if len(extra) > 0 {
		slices.Sort(extra)
		e.log.Debug("camel.qllm.extra_fields", slog.Any("fields", extra))
	}
	checked := map[string]any{EnoughField: answer[EnoughField]}
	for k, v := range data {
		checked[k] = v
	}
	if err := Validate(req.Schema, checked); err != nil {
		return Response{}, invalidAnswer(err, e.model)
	}

	enough := answer[EnoughField].(bool)
	if !enough {
		data = map[string]any{}
	}
	return Response{Data: data, HaveEnoughInformation: enough, Model: e.model}, nil
}

func invalidAnswer(err error, model string) error {
	return errors.New(errors.CodeLLMError, "invalid extraction answer", err).
		WithContext("model", model).
		WithRecoverable(true)
}

var _ Extractor = (*LLMExtractor)(nil)

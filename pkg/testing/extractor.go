package testing

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/qllm"
)

// DefaultExtractorModel names the model scripted extractions report.
const DefaultExtractorModel = "scripted"

type scriptedAnswer struct {
	data   map[string]any
	enough bool
}

// ScriptedExtractor is a qllm.Extractor returning canned answers per schema
// name. Answers are checked against the request schema the same way model
// answers are, so a script that does not fit the plan's class fails the run.
type ScriptedExtractor struct {
	mu       sync.Mutex
	model    string
	answers  map[string][]scriptedAnswer
	next     map[string]int
	requests []qllm.Request
}

// NewScriptedExtractor creates an extractor with no answers.
func NewScriptedExtractor() *ScriptedExtractor {
	return &ScriptedExtractor{
		model:   DefaultExtractorModel,
		answers: map[string][]scriptedAnswer{},
		next:    map[string]int{},
	}
}

// WithModel changes the reported model name.
func (e *ScriptedExtractor) WithModel(model string) *ScriptedExtractor {
	e.model = model
	return e
}

// Answer scripts a sufficient answer for schema.
func (e *ScriptedExtractor) Answer(schema string, data map[string]any) *ScriptedExtractor {
	return e.add(schema, scriptedAnswer{data: data, enough: true})
}

// Insufficient scripts an answer reporting have_enough_information=false.
func (e *ScriptedExtractor) Insufficient(schema string) *ScriptedExtractor {
	return e.add(schema, scriptedAnswer{})
}

func (e *ScriptedExtractor) add(schema string, a scriptedAnswer) *ScriptedExtractor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers[schema] = append(e.answers[schema], a)
	return e
}

// Extract implements qllm.Extractor.
func (e *ScriptedExtractor) Extract(ctx context.Context, req qllm.Request) (qllm.Response, error) {
	if err := ctx.Err(); err != nil {
		return qllm.Response{}, err
	}
	e.mu.Lock()
	e.requests = append(e.requests, req)
	list := e.answers[req.Schema.Name]
	if len(list) == 0 {
		e.mu.Unlock()
		return qllm.Response{}, errors.Newf(errors.CodeLLMError, "no scripted answer for %q", req.Schema.Name)
	}
	i := min(e.next[req.Schema.Name], len(list)-1)
	e.next[req.Schema.Name] = i + 1
	a := list[i]
	e.mu.Unlock()

	answer := maps.Clone(a.data)
	if answer == nil {
		answer = map[string]any{}
	}
	answer[qllm.EnoughField] = a.enough
	if err := qllm.Validate(req.Schema, answer); err != nil {
		return qllm.Response{}, fmt.Errorf("scripted answer for %q: %w", req.Schema.Name, err)
	}
	delete(answer, qllm.EnoughField)
	if !a.enough {
		answer = map[string]any{}
	}
	return qllm.Response{
		Data:                  answer,
		HaveEnoughInformation: a.enough,
		Model:                 e.model,
		Attempts:              1,
	}, nil
}

// Requests returns the recorded extraction requests.
func (e *ScriptedExtractor) Requests() []qllm.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]qllm.Request(nil), e.requests...)
}

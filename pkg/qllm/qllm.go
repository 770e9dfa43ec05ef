// Package qllm implements the quarantined extraction protocol: a model that
// sees an instruction, an input value and a schema, and may only answer
// with JSON that fills the schema. It never sees tool definitions and
// cannot call tools.
package qllm

import (
	"context"

	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/prompt"
)

// EnoughField is the boolean every extraction response must carry.
const EnoughField = prompt.EnoughField

// Request is one extraction call.
type Request struct {
	Instruction string
	// Input is plain JSON-like data (maps, slices, strings, numbers).
	Input  any
	Schema plan.Schema
}

// Response is a validated extraction. Data holds exactly the schema fields
// that were present in the answer.
type Response struct {
	Data                  map[string]any
	HaveEnoughInformation bool
	Model                 string
	// Attempts counts model calls, including refinement retries.
	Attempts int
}

// Extractor fills a schema from untrusted input.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Response, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, req Request) (Response, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

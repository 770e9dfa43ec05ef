// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry configures logging, tracing and metrics, and names the
// attributes plan runs are annotated with.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for plan runs.
const (
	// Run attributes
	AttrRunID    = "camel.run_id"
	AttrRunState = "camel.run.state"
	AttrStrict   = "camel.run.strict"
	AttrAttempt  = "camel.repair.attempt"

	// Step attributes
	AttrStep   = "camel.step"
	AttrTool   = "camel.tool"
	AttrSchema = "camel.schema"
	AttrModel  = "camel.model"

	// Policy attributes
	AttrPolicyAllowed = "camel.policy.allowed"
	AttrPolicyReason  = "camel.policy.reason"
	AttrPolicyRule    = "camel.policy.rule"

	// Trace summary attributes
	AttrEvents  = "camel.trace.events"
	AttrBlocked = "camel.trace.blocked"
	AttrIssues  = "camel.plan.issues"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
)

// RunAttributes returns attributes for a plan run span.
func RunAttributes(runID string, strict bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Bool(AttrStrict, strict),
	}
}

// RunResultAttributes describes how a run ended.
func RunResultAttributes(state string, events, blocked, issues int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunState, state),
		attribute.Int(AttrEvents, events),
		attribute.Int(AttrBlocked, blocked),
		attribute.Int(AttrIssues, issues),
	}
}

// StepAttributes returns attributes for a tool or extraction step span.
// Empty tool and schema values are omitted.
func StepAttributes(runID, step, tool, schema string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrStep, step),
	}
	if tool != "" {
		attrs = append(attrs, attribute.String(AttrTool, tool))
	}
	if schema != "" {
		attrs = append(attrs, attribute.String(AttrSchema, schema))
	}
	return attrs
}

// PolicyAttributes returns attributes for a policy decision.
func PolicyAttributes(allowed bool, reason, ruleID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrPolicyAllowed, allowed),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrPolicyReason, reason))
	}
	if ruleID != "" {
		attrs = append(attrs, attribute.String(AttrPolicyRule, ruleID))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}

// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/camel/pkg/errors"
)

// RuntimeMetrics counts policy decisions, tool calls, plan issues, repair
// attempts, finished runs and errors. A nil *RuntimeMetrics records nothing.
type RuntimeMetrics struct {
	decisions metric.Int64Counter
	toolCalls metric.Int64Counter
	issues    metric.Int64Counter
	repairs   metric.Int64Counter
	runs      metric.Int64Counter
	errors    metric.Int64Counter
}

// NewRuntimeMetrics creates the counters on the global meter provider.
func NewRuntimeMetrics() (*RuntimeMetrics, error) {
	meter := otel.Meter("camel/runtime")

	rm := &RuntimeMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&rm.decisions, "camel.policy.decisions", "Policy decisions by tool and outcome"},
		{&rm.toolCalls, "camel.tool.calls", "Tool calls by tool and outcome"},
		{&rm.issues, "camel.plan.issues", "Plan issues by stage"},
		{&rm.repairs, "camel.repair.attempts", "Repair attempts started after a failed plan"},
		{&rm.runs, "camel.runs", "Finished runs by final state"},
		{&rm.errors, "camel.errors", "Errors by code and component"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return rm, nil
}

// RecordDecision counts a policy decision for a tool call.
func (m *RuntimeMetrics) RecordDecision(ctx context.Context, tool string, allowed bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTool, tool),
		attribute.Bool(AttrPolicyAllowed, allowed),
	))
}

// RecordToolCall counts an executed tool call.
func (m *RuntimeMetrics) RecordToolCall(ctx context.Context, tool string, failed bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTool, tool),
		attribute.Bool("failed", failed),
	))
}

// RecordIssue counts a plan issue for the stage that produced it.
func (m *RuntimeMetrics) RecordIssue(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordRepair counts a repair attempt.
func (m *RuntimeMetrics) RecordRepair(ctx context.Context, attempt int) {
	if m == nil {
		return
	}
	m.repairs.Add(ctx, 1, metric.WithAttributes(attribute.Int(AttrAttempt, attempt)))
}

// RecordRun counts a finished run by its final state.
func (m *RuntimeMetrics) RecordRun(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRunState, state)))
}

// RecordError counts an error for a component. Errors that are not
// CamelErrors are recorded with code UNKNOWN.
func (m *RuntimeMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	if errors.CodeOf(err) != "" {
		ce := errors.AsCamelError(err)
		code, recoverable = string(ce.Code), ce.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

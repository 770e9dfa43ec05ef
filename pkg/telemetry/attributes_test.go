// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRunAttributes(t *testing.T) {
	assertAttributes(t, RunAttributes("run-1", true), map[string]any{
		AttrRunID:  "run-1",
		AttrStrict: true,
	})
	assertAttributes(t, RunResultAttributes("blocked", 3, 1, 1), map[string]any{
		AttrRunState: "blocked",
		AttrEvents:   3,
		AttrBlocked:  1,
		AttrIssues:   1,
	})
}

func TestStepAttributes(t *testing.T) {
	attrs := StepAttributes("run-1", "2.then.0", "send_email", "")
	assertAttributes(t, attrs, map[string]any{
		AttrRunID: "run-1",
		AttrStep:  "2.then.0",
		AttrTool:  "send_email",
	})
	if len(attrs) != 3 {
		t.Errorf("expected schema to be omitted, got %d attributes", len(attrs))
	}
}

func TestPolicyAttributes(t *testing.T) {
	attrs := PolicyAttributes(false, "no matching rule", "")
	assertAttributes(t, attrs, map[string]any{
		AttrPolicyAllowed: false,
		AttrPolicyReason:  "no matching rule",
	})
	if len(attrs) != 2 {
		t.Errorf("expected rule to be omitted, got %d attributes", len(attrs))
	}
}

func TestLLMAttributes(t *testing.T) {
	assertAttributes(t, LLMAttributes("llama3", "ollama", 2), map[string]any{
		AttrLLMModel:    "llama3",
		AttrLLMProvider: "ollama",
		AttrLLMMessages: 2,
	})
	assertAttributes(t, LLMUsageAttributes(10, 5, 12.5), map[string]any{
		AttrLLMTokensInput:  10,
		AttrLLMTokensOutput: 5,
		AttrLLMTokensTotal:  15,
		AttrLLMDurationMs:   12.5,
	})
	if attrs := LLMUsageAttributes(0, 0, 0); len(attrs) != 0 {
		t.Errorf("expected no usage attributes, got %v", attrs)
	}
}

// assertAttributes checks that expected key-value pairs exist in attrs
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}

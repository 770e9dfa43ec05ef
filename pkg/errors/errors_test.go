// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("network timeout")
	ce := New(CodeTimeout, "tool execution timed out", cause)

	if ce.Code != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", ce.Code)
	}
	if ce.Message != "tool execution timed out" {
		t.Errorf("unexpected message %q", ce.Message)
	}
	if !errors.Is(ce, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContextAndAttributes(t *testing.T) {
	ce := New(CodePolicyDenied, "denied", nil).
		WithContext("tool", "exec").
		WithAttribute("rule_id", "exec-command")

	if ce.Context["tool"] != "exec" {
		t.Errorf("expected context tool to be 'exec'")
	}
	if ce.Attributes["rule_id"] != "exec-command" {
		t.Errorf("expected attribute rule_id")
	}
}

func TestWithRecoverable(t *testing.T) {
	ce := New(CodeLLMError, "connection reset", nil)
	if ce.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
	ce.WithRecoverable(true)
	if !ce.Recoverable || ce.RecoverableString() != "true" {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		ce       *CamelError
		expected string
	}{
		{
			name:     "with cause",
			ce:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			ce:       New(CodeCompiler, "no code block found", nil),
			expected: "[COMPILER_ERROR] no code block found",
		},
		{
			name:     "formatted",
			ce:       Newf(CodeRaised, "name %q is not defined", "x"),
			expected: `[RAISED_ERROR] name "x" is not defined`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ce.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAsCamelErrorFindsWrapped(t *testing.T) {
	inner := New(CodePolicyDenied, "denied", nil)
	wrapped := fmt.Errorf("run: %w", inner)

	if got := AsCamelError(wrapped); got != inner {
		t.Fatalf("expected wrapped CamelError to be found")
	}
	if !IsCode(wrapped, CodePolicyDenied) {
		t.Fatalf("expected IsCode to match through wrapping")
	}
	if CodeOf(wrapped) != CodePolicyDenied {
		t.Fatalf("expected CodeOf to return POLICY_DENIED")
	}
}

func TestAsCamelErrorWrapsPlain(t *testing.T) {
	plain := errors.New("boom")
	ce := AsCamelError(plain)
	if ce.Code != CodeInternal || !errors.Is(ce, plain) {
		t.Fatalf("expected plain error wrapped as internal, got %v", ce)
	}
	if AsCamelError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if IsCode(plain, CodeInternal) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestMarshalJSON(t *testing.T) {
	ce := New(CodeToolFailure, "tool failed", errors.New("exit 1")).WithContext("tool", "exec")
	raw, err := json.Marshal(ce)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != "TOOL_FAILURE" || out["cause"] != "exit 1" {
		t.Fatalf("unexpected json: %s", raw)
	}
}

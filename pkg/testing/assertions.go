// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"slices"
	"strings"
	"testing"

	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/llm"
	"github.com/jllopis/camel/pkg/trace"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      testing.TB
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t testing.TB) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

func (a *Assertions) errorf(format string, args ...any) {
	a.t.Helper()
	a.t.Errorf(format, args...)
	a.failed = true
}

// AssertEqual asserts that two comparable values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.errorf("%s: expected true", msg)
	}
}

// AssertContains asserts that s contains substr.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.errorf("%s: %q does not contain %q", msg, s, substr)
	}
}

// AssertNoError asserts that err is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.errorf("%s: unexpected error: %v", msg, err)
	}
}

// AssertErrorCode asserts that err carries a CamelError with code.
func (a *Assertions) AssertErrorCode(err error, code errors.ErrorCode, msg string) {
	a.t.Helper()
	if !errors.IsCode(err, code) {
		a.errorf("%s: expected %s, got %v", msg, code, err)
	}
}

// AssertUntrusted asserts that a value lost trust and carries source.
func (a *Assertions) AssertUntrusted(v capability.Value, source capability.Source, msg string) {
	a.t.Helper()
	if v.Cap.Trusted {
		a.errorf("%s: expected an untrusted value, got %s", msg, v.Cap)
	}
	if source != "" && !v.Cap.HasSource(source) {
		a.errorf("%s: expected source %s in %s", msg, source, v.Cap)
	}
}

// RequestAssertions provides assertion helpers for LLM requests.
type RequestAssertions struct {
	*Assertions
	req *llm.ChatRequest
}

// AssertRequest creates request assertions for the given request.
func (a *Assertions) AssertRequest(req *llm.ChatRequest) *RequestAssertions {
	a.t.Helper()
	if req == nil {
		a.errorf("request is nil")
		return &RequestAssertions{Assertions: a, req: &llm.ChatRequest{}}
	}
	return &RequestAssertions{Assertions: a, req: req}
}

// HasModel asserts the request uses the given model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.errorf("expected model %q, got %q", model, r.req.Model)
	}
	return r
}

// HasSystemMessage asserts a system message exists with the given content.
func (r *RequestAssertions) HasSystemMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasMessage(llm.RoleSystem, contains)
}

// HasUserMessage asserts a user message exists with the given content.
func (r *RequestAssertions) HasUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasMessage(llm.RoleUser, contains)
}

func (r *RequestAssertions) hasMessage(role llm.Role, contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == role && strings.Contains(msg.Content, contains) {
			return r
		}
	}
	r.errorf("no %s message containing %q found", role, contains)
	return r
}

// HasNoTools asserts that no tool definitions were sent.
func (r *RequestAssertions) HasNoTools() *RequestAssertions {
	r.t.Helper()
	if len(r.req.Tools) != 0 {
		r.errorf("expected no tools, got %d", len(r.req.Tools))
	}
	return r
}

// WantsJSON asserts that the request asked for a JSON answer.
func (r *RequestAssertions) WantsJSON() *RequestAssertions {
	r.t.Helper()
	if !r.req.JSON {
		r.errorf("expected a JSON request")
	}
	return r
}

// EventAssertions provides assertion helpers for trace events.
type EventAssertions struct {
	*Assertions
	ev trace.Event
}

// AssertEvent finds the first event of kind for tool (or any event of kind
// when tool is empty).
func (a *Assertions) AssertEvent(events []trace.Event, kind trace.Kind, tool string) *EventAssertions {
	a.t.Helper()
	for _, ev := range events {
		if ev.Kind == kind && (tool == "" || ev.Tool == tool) {
			return &EventAssertions{Assertions: a, ev: ev}
		}
	}
	a.errorf("no %s event for %q in %d events", kind, tool, len(events))
	return &EventAssertions{Assertions: a}
}

// IsBlocked asserts the event was denied by policy.
func (e *EventAssertions) IsBlocked() *EventAssertions {
	e.t.Helper()
	if !e.ev.Blocked {
		e.errorf("expected %s to be blocked", e.ev.Tool)
	}
	return e
}

// IsUntrusted asserts the event's output was untrusted.
func (e *EventAssertions) IsUntrusted() *EventAssertions {
	e.t.Helper()
	if e.ev.Trusted {
		e.errorf("expected untrusted output for step %s", e.ev.Step)
	}
	return e
}

// HasSource asserts the event output carries source.
func (e *EventAssertions) HasSource(source string) *EventAssertions {
	e.t.Helper()
	if !slices.Contains(e.ev.Sources, source) {
		e.errorf("expected source %s, got %v", source, e.ev.Sources)
	}
	return e
}

// IsSuspicious asserts the event was flagged by the injection scanner.
func (e *EventAssertions) IsSuspicious() *EventAssertions {
	e.t.Helper()
	if len(e.ev.Suspicious) == 0 {
		e.errorf("expected step %s to be flagged as suspicious", e.ev.Step)
	}
	return e
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

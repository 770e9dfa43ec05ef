// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace records what a plan run did, one event per executed
// assignment, tool call, extraction and final step.
package trace

import (
	"maps"
	"slices"
	"time"
)

// Kind identifies the step that produced an event.
type Kind string

const (
	KindTool   Kind = "tool"
	KindQLLM   Kind = "qllm"
	KindAssign Kind = "assign"
	KindFinal  Kind = "final"
)

// Event is a single trace entry. Events are values; once appended to a
// Trace they are never modified.
type Event struct {
	RunID string    `json:"runId,omitempty"`
	Seq   int       `json:"seq"`
	Kind  Kind      `json:"kind"`
	Step  string    `json:"step,omitempty"`
	At    time.Time `json:"at"`

	// Tool events.
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Blocked bool           `json:"blocked,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	RuleID  string         `json:"ruleId,omitempty"`
	Error   bool           `json:"error,omitempty"`

	// Target is the variable bound by assign, tool and qllm steps.
	Target  string   `json:"target,omitempty"`
	Trusted bool     `json:"trusted"`
	Sources []string `json:"sources,omitempty"`
	Model   string   `json:"model,omitempty"`

	// Suspicious lists injection patterns found in untrusted output.
	Suspicious []string `json:"suspicious,omitempty"`
	// Redacted lists template references withheld from the final text.
	Redacted []string `json:"redacted,omitempty"`
	Text     string   `json:"text,omitempty"`
}

func (e Event) clone() Event {
	e.Args = maps.Clone(e.Args)
	e.Sources = slices.Clone(e.Sources)
	e.Suspicious = slices.Clone(e.Suspicious)
	e.Redacted = slices.Clone(e.Redacted)
	return e
}

// Trace is the append-only event log of one run. It is owned by a single
// execution and is not safe for concurrent use.
type Trace struct {
	runID  string
	events []Event
	now    func() time.Time
}

// New returns an empty trace for runID.
func New(runID string) *Trace {
	return &Trace{runID: runID, now: time.Now}
}

// Append stamps e with the run id, sequence number and time, stores a copy
// and returns it.
func (t *Trace) Append(e Event) Event {
	e = e.clone()
	e.RunID = t.runID
	e.Seq = len(t.events) + 1
	if e.At.IsZero() {
		e.At = t.now().UTC()
	}
	t.events = append(t.events, e)
	return e.clone()
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []Event {
	out := make([]Event, len(t.events))
	for i, e := range t.events {
		out[i] = e.clone()
	}
	return out
}

// Len reports the number of recorded events.
func (t *Trace) Len() int { return len(t.events) }

// Blocked returns the tool events refused by policy.
func Blocked(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == KindTool && e.Blocked {
			out = append(out, e)
		}
	}
	return out
}

// Executed returns the tool events that reached the tool.
func Executed(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == KindTool && !e.Blocked {
			out = append(out, e)
		}
	}
	return out
}

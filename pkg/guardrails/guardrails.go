// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails scans untrusted text for signs of prompt injection.
//
// Findings are informational. The interpreter records them on trace events
// and the final-reply prompt mentions them, but they never change a value's
// capability and never allow or deny a tool call. Policy decisions are made
// on provenance alone.
//
// Example usage:
//
//	guard := guardrails.New(
//	    guardrails.WithPromptInjectionDetector(),
//	)
//	in := interpreter.New(interpreter.WithScanner(guard))
package guardrails

import (
	"context"
	"slices"
	"sync"
)

// Detector reports findings for a piece of text.
type Detector interface {
	// Detect returns short labels for what matched, or nil.
	Detect(ctx context.Context, text string) []string

	// ID returns a unique identifier for this detector.
	ID() string
}

// Guardrails runs a set of detectors over text.
type Guardrails struct {
	mu        sync.RWMutex
	detectors []Detector
	maxText   int
}

// Option configures the Guardrails instance.
type Option func(*Guardrails)

// DefaultMaxText bounds how much of a text is scanned.
const DefaultMaxText = 64 << 10

// New creates a new Guardrails instance with the given options.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{maxText: DefaultMaxText}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithDetector adds a custom detector.
func WithDetector(d Detector) Option {
	return func(g *Guardrails) {
		g.detectors = append(g.detectors, d)
	}
}

// WithMaxText changes how many bytes of a text are scanned.
func WithMaxText(n int) Option {
	return func(g *Guardrails) {
		if n > 0 {
			g.maxText = n
		}
	}
}

// AddDetector registers a detector at runtime.
func (g *Guardrails) AddDetector(d Detector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detectors = append(g.detectors, d)
}

// Scan runs every detector and returns the distinct findings in detector
// order. Scanning stops early when ctx is done.
func (g *Guardrails) Scan(ctx context.Context, text string) []string {
	if g == nil || text == "" {
		return nil
	}
	if len(text) > g.maxText {
		text = text[:g.maxText]
	}

	g.mu.RLock()
	detectors := slices.Clone(g.detectors)
	g.mu.RUnlock()

	var findings []string
	for _, d := range detectors {
		if ctx.Err() != nil {
			break
		}
		for _, f := range d.Detect(ctx, text) {
			if !slices.Contains(findings, f) {
				findings = append(findings, f)
			}
		}
	}
	return findings
}

// Stats returns guardrails statistics.
func (g *Guardrails) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, len(g.detectors))
	for i, d := range g.detectors {
		ids[i] = d.ID()
	}
	return Stats{Detectors: ids}
}

// Stats contains guardrails statistics.
type Stats struct {
	Detectors []string
}

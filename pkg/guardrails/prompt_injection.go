// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

// PromptInjectionDetector matches common injection techniques in text that
// came from tools or documents.
type PromptInjectionDetector struct {
	patterns []labeledPattern
}

type labeledPattern struct {
	label string
	re    *regexp.Regexp
}

// PromptInjectionOption configures the prompt injection detector.
type PromptInjectionOption func(*PromptInjectionDetector)

// Finding labels.
const (
	FindingInstructionOverride = "instruction override"
	FindingRoleManipulation    = "role manipulation"
	FindingPromptExtraction    = "system prompt extraction"
	FindingJailbreak           = "jailbreak"
	FindingPrivilegedMode      = "privileged mode request"
	FindingObfuscation         = "encoded or executable payload"
	FindingDelimiter           = "chat template delimiter"
	FindingToolDirective       = "tool call directive"
)

var defaultInjectionPatterns = []struct {
	label   string
	pattern string
}{
	{FindingInstructionOverride, `(?i)(ignore|disregard|forget|override)\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`},
	{FindingInstructionOverride, `(?i)new\s+instructions?\s*:`},

	{FindingRoleManipulation, `(?i)you\s+are\s+now\s+(a|an|the)\s+`},
	{FindingRoleManipulation, `(?i)pretend\s+(you\s+are|to\s+be)\s+`},
	{FindingRoleManipulation, `(?i)\bact\s+as\s+(a|an|if)\s+`},
	{FindingRoleManipulation, `(?i)roleplay\s+as\s+`},

	{FindingPromptExtraction, `(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?)`},
	{FindingPromptExtraction, `(?i)(show|reveal|print|display)\s+(me\s+)?your\s+(system\s+)?(prompt|instructions?)`},

	{FindingJailbreak, `(?i)do\s+anything\s+now`},
	{FindingJailbreak, `(?i)\bDAN\s+mode`},
	{FindingJailbreak, `(?i)jailbreak`},
	{FindingJailbreak, `(?i)bypass\s+(the\s+)?(safety|content|filter|policy)`},

	{FindingPrivilegedMode, `(?i)(developer|debug|sudo|admin|maintenance|god)\s+mode`},

	{FindingObfuscation, `(?i)base64\s+(decode|encode)`},
	{FindingObfuscation, `(?i)\brot13\b`},
	{FindingObfuscation, `(?i)execute\s+(this\s+|the\s+following\s+)?(code|command|script)`},

	{FindingDelimiter, `(?i)\]\]\s*system\s*:`},
	{FindingDelimiter, `<\|[a-z_]+\|>`},
	{FindingDelimiter, `(?i)\[/?INST\]`},
	{FindingDelimiter, `(?i)<</?SYS>>`},

	{FindingToolDirective, `(?i)(call|invoke|use)\s+the\s+\w+\s+tool`},
	{FindingToolDirective, `(?i)(send|forward|email)\s+(this|it|everything|all\s+\w+)\s+to\s+\S+@\S+`},
}

// NewPromptInjectionDetector creates a new prompt injection detector.
func NewPromptInjectionDetector(opts ...PromptInjectionOption) *PromptInjectionDetector {
	d := &PromptInjectionDetector{
		patterns: make([]labeledPattern, 0, len(defaultInjectionPatterns)),
	}
	for _, p := range defaultInjectionPatterns {
		d.patterns = append(d.patterns, labeledPattern{label: p.label, re: regexp.MustCompile(p.pattern)})
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithInjectionPattern adds a custom pattern reported under label.
// Patterns that do not compile are ignored.
func WithInjectionPattern(label, pattern string) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		if re, err := regexp.Compile(pattern); err == nil {
			d.patterns = append(d.patterns, labeledPattern{label: label, re: re})
		}
	}
}

// ID returns the detector identifier.
func (d *PromptInjectionDetector) ID() string {
	return "prompt-injection"
}

// Detect returns the distinct labels of matching patterns.
func (d *PromptInjectionDetector) Detect(ctx context.Context, text string) []string {
	if text == "" {
		return nil
	}
	var labels []string
	seen := make(map[string]bool)
	for _, p := range d.patterns {
		if ctx.Err() != nil {
			return labels
		}
		if seen[p.label] {
			continue
		}
		if p.re.MatchString(text) {
			seen[p.label] = true
			labels = append(labels, p.label)
		}
	}
	return labels
}

// WithPromptInjectionDetector returns an option that adds prompt injection detection.
func WithPromptInjectionDetector(opts ...PromptInjectionOption) Option {
	return func(g *Guardrails) {
		g.detectors = append(g.detectors, NewPromptInjectionDetector(opts...))
	}
}

// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether a tool call may run.
//
// Tools outside the configured profile, and owner-only tools called for
// anyone but an owner, are denied first. Read-only calls are then allowed.
// A state-changing call is allowed only when the data that decided the call
// happens at all is public and the first matching rule of the policy table
// accepts the call's arguments. Exact tool names are consulted before
// wildcard patterns and a call with no matching rule is denied.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jllopis/camel/pkg/capability"
)

// Reasons and rule ids used by decisions that do not come from a rule.
const (
	ReasonControl = "state-changing tool depends on non-public control data"
	ReasonDefault = "no matching rule — default deny"
	ReasonRead    = "read-only tool"
	ReasonOwner   = "tool is restricted to the owner"

	RuleRead    = "read-only"
	RuleControl = "control"
	RuleDefault = "default-deny"
	RuleProfile = "profile"
	RuleOwner   = "owner-only"
)

// Request is a tool call awaiting a decision.
type Request struct {
	Tool string
	// Args holds the evaluated arguments with their capabilities.
	Args map[string]capability.Value
	// Control is the merged capability of every condition and iterable
	// that led to the call.
	Control capability.Capability
	// Principal is who the run acts for. Owner-only tools need it.
	Principal string
}

// Decision captures the outcome of a policy evaluation.
type Decision struct {
	Allowed    bool
	Reason     string
	RuleID     string
	Mutability Mutability
}

// Decider evaluates tool calls.
type Decider interface {
	Decide(ctx context.Context, req Request) Decision
}

type table struct {
	classifier *Classifier
	profile    profileSet
	ownerOnly  []string
	owners     []string
	exact      []Rule
	wildcard   []Rule
}

func (t *table) match(tool string) (Rule, bool) {
	for _, r := range t.exact {
		if r.Tool == tool {
			return r, true
		}
	}
	for _, r := range t.wildcard {
		if ok, _ := matchGlob(r.Tool, tool); ok {
			return r, true
		}
	}
	return Rule{}, false
}

// Engine is the policy decision engine. It is safe for concurrent use and
// its table can be replaced while decisions are in flight.
type Engine struct {
	current atomic.Pointer[table]
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Load(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// DefaultEngine returns an engine with the built-in table.
func DefaultEngine() *Engine {
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		panic("policy: invalid default config: " + err.Error())
	}
	return e
}

// Load compiles cfg and swaps it in atomically.
func (e *Engine) Load(cfg *Config) error {
	t, err := compile(cfg)
	if err != nil {
		return err
	}
	e.current.Store(t)
	return nil
}

func compile(cfg *Config) (*table, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	t := &table{classifier: DefaultClassifier()}
	if !cfg.ReplaceDefaults {
		t.classifier = t.classifier.Merge(cfg.ReadOnly, cfg.ReadActions)
	} else {
		t.classifier = NewClassifier(cfg.ReadOnly, cfg.ReadActions)
	}
	profile, err := resolveProfile(cfg.Profile, cfg.Deny)
	if err != nil {
		return nil, err
	}
	t.profile = profile
	t.ownerOnly = ExpandGroups(cfg.OwnerOnly)
	t.owners = slices.Clone(cfg.Owners)
	for i, r := range cfg.Rules {
		if r.ID == "" {
			r.ID = "rule-" + strconv.Itoa(i+1)
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		switch {
		case isGlob(r.Tool):
			r.Tool = strings.ToLower(strings.TrimSpace(r.Tool))
			t.wildcard = append(t.wildcard, r)
		default:
			for _, name := range ExpandGroups([]string{r.Tool}) {
				rr := r
				rr.Tool = name
				t.exact = append(t.exact, rr)
			}
		}
	}
	return t, nil
}

// Classify returns the mutability of a call under the current table.
func (e *Engine) Classify(tool string, args map[string]capability.Value) Mutability {
	return e.current.Load().classifier.Classify(tool, args)
}

// Rules returns the current table, exact entries first.
func (e *Engine) Rules() []Rule {
	t := e.current.Load()
	out := make([]Rule, 0, len(t.exact)+len(t.wildcard))
	out = append(out, t.exact...)
	return append(out, t.wildcard...)
}

// Decide evaluates req against the current table.
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	t := e.current.Load()
	tool := NormalizeToolName(req.Tool)
	d := decide(t, tool, req)
	level := slog.LevelDebug
	if !d.Allowed {
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, "camel.policy.decision",
		slog.String("tool", tool),
		slog.Bool("allowed", d.Allowed),
		slog.String("rule", d.RuleID),
		slog.String("reason", d.Reason),
	)
	return d
}

// Available reports whether the current profile offers tool.
func (e *Engine) Available(tool string) bool {
	return e.current.Load().profile.permits(NormalizeToolName(tool))
}

// Profile returns the name of the current tool profile.
func (e *Engine) Profile() string {
	return e.current.Load().profile.name
}

func decide(t *table, tool string, req Request) Decision {
	if !t.profile.permits(tool) {
		return Decision{
			Reason:     fmt.Sprintf("tool %s is not available under profile %s", tool, t.profile.name),
			RuleID:     RuleProfile,
			Mutability: t.classifier.Classify(tool, req.Args),
		}
	}
	if slices.Contains(t.ownerOnly, tool) && (req.Principal == "" || !slices.Contains(t.owners, req.Principal)) {
		return Decision{Reason: ReasonOwner, RuleID: RuleOwner, Mutability: t.classifier.Classify(tool, req.Args)}
	}
	if t.classifier.Classify(tool, req.Args) == Read {
		return Decision{Allowed: true, Reason: ReasonRead, RuleID: RuleRead, Mutability: Read}
	}
	if !req.Control.Trusted || !capability.IsPublic(req.Control) {
		return Decision{Reason: ReasonControl, RuleID: RuleControl, Mutability: State}
	}
	rule, ok := t.match(tool)
	if !ok {
		return Decision{Reason: ReasonDefault, RuleID: RuleDefault, Mutability: State}
	}
	return rule.apply(tool, req.Args)
}

func matchGlob(pattern, name string) (bool, error) {
	return path.Match(pattern, name)
}

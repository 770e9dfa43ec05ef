package policy

import (
	"maps"

	"github.com/jllopis/camel/pkg/capability"
)

// Mutability says whether a tool call can change state outside the run.
type Mutability string

const (
	Read  Mutability = "read"
	State Mutability = "state"
)

// ActionArg is the argument that selects the behavior of action-based tools.
const ActionArg = "action"

var defaultReadOnly = []string{
	"read", "web_search", "web_fetch", "memory_search", "memory_get",
	"sessions_list", "sessions_history", "session_status", "agents_list", "image",
}

var defaultReadActions = map[string][]string{
	"message": {"read", "search", "list", "status"},
	"browser": {"status", "snapshot", "screenshot", "tabs", "console"},
	"gateway": {"status", "get"},
	"cron":    {"status", "list", "runs"},
	"nodes":   {"status", "list", "describe"},
	"canvas":  {"status", "snapshot"},
}

// Classifier decides tool mutability. Tools are read-only, action-based or
// state-changing; anything it does not know is state-changing.
type Classifier struct {
	readOnly map[string]bool
	actions  map[string]map[string]bool
}

// NewClassifier builds a classifier from read-only tool names (groups are
// expanded) and, for action-based tools, the actions that only read.
func NewClassifier(readOnly []string, readActions map[string][]string) *Classifier {
	c := &Classifier{readOnly: map[string]bool{}, actions: map[string]map[string]bool{}}
	for _, n := range ExpandGroups(readOnly) {
		c.readOnly[n] = true
	}
	for tool, acts := range readActions {
		set := map[string]bool{}
		for _, a := range acts {
			set[a] = true
		}
		c.actions[NormalizeToolName(tool)] = set
	}
	return c
}

// DefaultClassifier returns the built-in classification.
func DefaultClassifier() *Classifier {
	return NewClassifier(defaultReadOnly, defaultReadActions)
}

// Merge returns a classifier with extra read-only tools and action sets
// layered over c. Action sets for a tool replace the existing ones.
func (c *Classifier) Merge(readOnly []string, readActions map[string][]string) *Classifier {
	out := &Classifier{readOnly: maps.Clone(c.readOnly), actions: maps.Clone(c.actions)}
	for _, n := range ExpandGroups(readOnly) {
		out.readOnly[n] = true
	}
	for tool, acts := range readActions {
		set := map[string]bool{}
		for _, a := range acts {
			set[a] = true
		}
		out.actions[NormalizeToolName(tool)] = set
	}
	return out
}

// ActionBased reports whether tool's mutability depends on its action.
func (c *Classifier) ActionBased(tool string) bool {
	_, ok := c.actions[NormalizeToolName(tool)]
	return ok
}

// Classify returns the mutability of a call to tool with args.
func (c *Classifier) Classify(tool string, args map[string]capability.Value) Mutability {
	name := NormalizeToolName(tool)
	if c.readOnly[name] {
		return Read
	}
	if acts, ok := c.actions[name]; ok {
		if v, ok := args[ActionArg]; ok {
			if a, ok := v.Data.(string); ok && acts[a] {
				return Read
			}
		}
	}
	return State
}

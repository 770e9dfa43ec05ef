// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements the security labels carried by every value
// the interpreter produces.
//
// A Capability records whether a value is trusted, who may read it and where
// it came from. Labels only ever get weaker as values are combined: trust is
// ANDed, reader sets are intersected and sources are unioned.
package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Source names where a value came from, e.g. "user", "camel" or "tool:exec".
type Source string

const (
	// SourceUser marks data typed by the user.
	SourceUser Source = "user"
	// SourceCamel marks values created by the interpreter itself: plan
	// literals and the results of pure computation.
	SourceCamel Source = "camel"
)

// ToolSource returns the source label for output of the named tool.
func ToolSource(tool string) Source { return Source("tool:" + tool) }

// QLLMSource returns the source label for output of the quarantined model.
func QLLMSource(model string) Source { return Source("qllm:" + model) }

// Readers is either Public or an explicit set of principals.
// The zero value is Public.
type Readers struct {
	restricted bool
	principals []string
}

// Public returns the reader set that admits everyone.
func Public() Readers { return Readers{} }

// Only returns a reader set restricted to the given principals.
// Only() with no principals admits nobody.
func Only(principals ...string) Readers {
	return Readers{restricted: true, principals: normalize(principals)}
}

// IsPublic reports whether anyone may read.
func (r Readers) IsPublic() bool { return !r.restricted }

// Principals returns a copy of the explicit reader set. It is nil for Public.
func (r Readers) Principals() []string {
	if !r.restricted {
		return nil
	}
	return append([]string{}, r.principals...)
}

// Contains reports whether principal may read.
func (r Readers) Contains(principal string) bool {
	if !r.restricted {
		return true
	}
	i := sort.SearchStrings(r.principals, principal)
	return i < len(r.principals) && r.principals[i] == principal
}

// Intersect returns the readers present in both sets.
func (r Readers) Intersect(o Readers) Readers {
	switch {
	case !r.restricted:
		return o
	case !o.restricted:
		return r
	}
	out := make([]string, 0, len(r.principals))
	for _, p := range r.principals {
		if o.Contains(p) {
			out = append(out, p)
		}
	}
	return Readers{restricted: true, principals: out}
}

// Equal reports whether both reader sets admit exactly the same principals.
func (r Readers) Equal(o Readers) bool {
	if r.restricted != o.restricted || len(r.principals) != len(o.principals) {
		return false
	}
	for i := range r.principals {
		if r.principals[i] != o.principals[i] {
			return false
		}
	}
	return true
}

func (r Readers) String() string {
	if !r.restricted {
		return "public"
	}
	return "{" + strings.Join(r.principals, ",") + "}"
}

// MarshalJSON encodes Public as "public" and explicit sets as arrays.
func (r Readers) MarshalJSON() ([]byte, error) {
	if !r.restricted {
		return json.Marshal("public")
	}
	if r.principals == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.principals)
}

// UnmarshalJSON accepts "public" or an array of principals.
func (r *Readers) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "public" {
			return fmt.Errorf("capability: unknown reader set %q", s)
		}
		*r = Public()
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("capability: readers must be \"public\" or a list: %w", err)
	}
	*r = Only(list...)
	return nil
}

// Capability is the security label attached to a runtime value.
type Capability struct {
	Trusted bool     `json:"trusted"`
	Readers Readers  `json:"readers"`
	Sources []Source `json:"sources"`
}

// New builds a capability with a normalized source set.
func New(trusted bool, readers Readers, sources ...Source) Capability {
	return Capability{Trusted: trusted, Readers: readers, Sources: normalizeSources(sources)}
}

// Literal is the capability of values written in the plan itself.
func Literal() Capability { return New(true, Public(), SourceCamel) }

// User is the capability of data supplied by the user.
func User() Capability { return New(true, Public(), SourceUser) }

// ToolOutput is the capability of a value returned by the named tool.
func ToolOutput(tool string) Capability { return New(false, Public(), ToolSource(tool)) }

// Merge combines capabilities: trust is ANDed, readers intersected and
// sources unioned. Merging nothing yields a trusted, public label with no
// sources.
func Merge(caps ...Capability) Capability {
	out := Capability{Trusted: true, Readers: Public()}
	var sources []Source
	for _, c := range caps {
		out.Trusted = out.Trusted && c.Trusted
		out.Readers = out.Readers.Intersect(c.Readers)
		sources = append(sources, c.Sources...)
	}
	out.Sources = normalizeSources(sources)
	return out
}

// AllowsReader reports whether principal may read a value labelled c.
func AllowsReader(c Capability, principal string) bool {
	return c.Readers.Contains(principal)
}

// IsPublic reports whether a value labelled c is readable by everyone,
// whatever its trust.
func IsPublic(c Capability) bool {
	return c.Readers.IsPublic()
}

// HasSource reports whether s is among the sources of c.
func (c Capability) HasSource(s Source) bool {
	for _, src := range c.Sources {
		if src == s {
			return true
		}
	}
	return false
}

// WithTrust returns a copy of c with the trust bit replaced.
func (c Capability) WithTrust(trusted bool) Capability {
	c.Sources = append([]Source(nil), c.Sources...)
	c.Trusted = trusted
	return c
}

// WithSources returns a copy of c with extra sources added.
func (c Capability) WithSources(extra ...Source) Capability {
	c.Sources = normalizeSources(append(append([]Source(nil), c.Sources...), extra...))
	return c
}

// Equal reports whether two capabilities carry the same label.
func (c Capability) Equal(o Capability) bool {
	if c.Trusted != o.Trusted || !c.Readers.Equal(o.Readers) || len(c.Sources) != len(o.Sources) {
		return false
	}
	for i := range c.Sources {
		if c.Sources[i] != o.Sources[i] {
			return false
		}
	}
	return true
}

// SourceStrings returns the sources as plain strings.
func (c Capability) SourceStrings() []string {
	out := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = string(s)
	}
	return out
}

func (c Capability) String() string {
	trust := "untrusted"
	if c.Trusted {
		trust = "trusted"
	}
	return fmt.Sprintf("%s readers=%s sources=[%s]", trust, c.Readers, strings.Join(c.SourceStrings(), ","))
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func normalizeSources(in []Source) []Source {
	if len(in) == 0 {
		return nil
	}
	out := make([]Source, 0, len(in))
	seen := make(map[Source]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

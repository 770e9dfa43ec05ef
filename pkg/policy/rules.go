package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jllopis/camel/pkg/capability"
)

// Effect is the check a rule applies to a state-changing call.
type Effect string

const (
	// EffectAllow permits the call.
	EffectAllow Effect = "allow"
	// EffectDeny refuses the call.
	EffectDeny Effect = "deny"
	// EffectTrustedFields requires the named arguments to be trusted.
	EffectTrustedFields Effect = "trusted_fields"
	// EffectRecipients guards messaging tools: recipients must be trusted
	// or every recipient must be allowed to read the payload, which is
	// every argument that is not a recipient.
	EffectRecipients Effect = "recipients"
)

// AllFields in a trusted_fields rule covers every argument.
const AllFields = "*"

// Rule is one policy table entry. Tool is an exact name, a glob such as
// "*_send", or a group reference such as "group:fs".
type Rule struct {
	ID         string   `yaml:"id" json:"id"`
	Tool       string   `yaml:"tool" json:"tool"`
	Effect     Effect   `yaml:"effect" json:"effect"`
	Fields     []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Recipients []string `yaml:"recipients,omitempty" json:"recipients,omitempty"`
	Reason     string   `yaml:"reason,omitempty" json:"reason,omitempty"`
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Tool) == "" {
		return fmt.Errorf("rule %q: tool is required", r.ID)
	}
	switch r.Effect {
	case EffectAllow, EffectDeny:
	case EffectTrustedFields:
		if len(r.Fields) == 0 {
			return fmt.Errorf("rule %q: trusted_fields needs at least one field", r.ID)
		}
	case EffectRecipients:
		if len(r.Recipients) == 0 {
			return fmt.Errorf("rule %q: recipients needs at least one recipient field", r.ID)
		}
	default:
		return fmt.Errorf("rule %q: unknown effect %q", r.ID, r.Effect)
	}
	if isGlob(r.Tool) {
		if _, err := matchGlob(r.Tool, ""); err != nil {
			return fmt.Errorf("rule %q: bad pattern %q: %w", r.ID, r.Tool, err)
		}
	}
	return nil
}

func (r Rule) apply(tool string, args map[string]capability.Value) Decision {
	d := Decision{RuleID: r.ID, Mutability: State}
	switch r.Effect {
	case EffectAllow:
		d.Allowed = true
		d.Reason = r.reasonOr("allowed by rule " + r.ID)
	case EffectDeny:
		d.Reason = r.reasonOr("denied by rule " + r.ID)
	case EffectTrustedFields:
		return r.trustedFields(d, tool, args)
	case EffectRecipients:
		return r.recipients(d, tool, args)
	}
	return d
}

func (r Rule) reasonOr(def string) string {
	if r.Reason != "" {
		return r.Reason
	}
	return def
}

func (r Rule) trustedFields(d Decision, tool string, args map[string]capability.Value) Decision {
	fields := r.Fields
	if slices.Contains(fields, AllFields) {
		fields = sortedKeys(args)
	}
	var untrusted []string
	for _, f := range fields {
		if v, ok := args[f]; ok && !v.Cap.Trusted {
			untrusted = append(untrusted, f)
		}
	}
	if len(untrusted) == 0 {
		d.Allowed = true
		d.Reason = "all guarded arguments are trusted"
		return d
	}
	d.Reason = fmt.Sprintf("argument %s of %s is not trusted (sources: %s)",
		strings.Join(untrusted, ", "), tool, strings.Join(sourcesOf(args, untrusted), ", "))
	return d
}

func (r Rule) recipients(d Decision, tool string, args map[string]capability.Value) Decision {
	var (
		names []string
		caps  []capability.Capability
	)
	for _, f := range r.Recipients {
		v, ok := args[f]
		if !ok {
			continue
		}
		names = append(names, recipientNames(v.Data)...)
		caps = append(caps, v.Cap)
	}
	if len(caps) == 0 {
		d.Allowed = true
		d.Reason = "no explicit recipients"
		return d
	}
	if capability.Merge(caps...).Trusted {
		d.Allowed = true
		d.Reason = "recipients are trusted"
		return d
	}
	var payload []capability.Capability
	for f, v := range args {
		if !slices.Contains(r.Recipients, f) {
			payload = append(payload, v.Cap)
		}
	}
	pc := capability.Merge(payload...)
	var denied []string
	for _, n := range names {
		if !capability.AllowsReader(pc, n) {
			denied = append(denied, n)
		}
	}
	if len(names) == 0 {
		d.Reason = fmt.Sprintf("untrusted recipients of %s could not be resolved", tool)
		return d
	}
	if len(denied) > 0 {
		d.Reason = fmt.Sprintf("recipients are not trusted and may not read the payload of %s: %s",
			tool, strings.Join(denied, ", "))
		return d
	}
	d.Allowed = true
	d.Reason = "every recipient may read the payload"
	return d
}

// recipientNames extracts principal names from a recipient argument: a
// string, a list of strings, or a list of objects with an id-like field.
func recipientNames(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, recipientNames(item)...)
		}
		return out
	case map[string]any:
		for _, k := range []string{"id", "address", "email", "name"} {
			if s, ok := t[k].(string); ok && s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func sortedKeys(args map[string]capability.Value) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sourcesOf(args map[string]capability.Value, fields []string) []string {
	var caps []capability.Capability
	for _, f := range fields {
		caps = append(caps, args[f].Cap)
	}
	src := capability.Merge(caps...).SourceStrings()
	if len(src) == 0 {
		return []string{"unknown"}
	}
	return src
}

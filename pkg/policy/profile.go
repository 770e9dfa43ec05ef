package policy

import (
	"fmt"
	"slices"
	"sort"
)

// Profile limits which tools are offered at all. An empty Allow list
// offers every tool; Deny always wins.
type Profile struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// ProfileFull offers every tool.
const ProfileFull = "full"

// Profiles are the preset tool sets a policy may name.
var Profiles = map[string]Profile{
	"minimal": {Allow: []string{"session_status"}},
	"coding": {Allow: []string{
		"group:fs", "group:runtime", "group:sessions", "group:memory", "image",
	}},
	"messaging": {Allow: []string{
		"group:messaging", "sessions_list", "sessions_history", "sessions_send", "session_status",
	}},
	ProfileFull: {},
}

// OwnerOnlyTools may only be called on behalf of a configured owner.
var OwnerOnlyTools = []string{"whatsapp_login"}

// ProfileNames returns the preset profile names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(Profiles))
	for n := range Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolveProfile combines the named preset with extra denials.
func resolveProfile(name string, deny []string) (profileSet, error) {
	if name == "" {
		name = ProfileFull
	}
	p, ok := Profiles[name]
	if !ok {
		return profileSet{}, fmt.Errorf("unknown tool profile %q (want one of %v)", name, ProfileNames())
	}
	return profileSet{
		name:  name,
		allow: ExpandGroups(p.Allow),
		deny:  ExpandGroups(append(slices.Clone(p.Deny), deny...)),
	}, nil
}

type profileSet struct {
	name  string
	allow []string
	deny  []string
}

func (p profileSet) permits(tool string) bool {
	if slices.Contains(p.deny, tool) {
		return false
	}
	return len(p.allow) == 0 || slices.Contains(p.allow, tool)
}

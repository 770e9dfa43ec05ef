package policy

import (
	"slices"
	"strings"
)

// toolAliases maps alternative tool names to their canonical form.
var toolAliases = map[string]string{
	"bash":        "exec",
	"apply-patch": "apply_patch",
}

// ToolGroups names sets of tools that policy entries may refer to as a unit.
var ToolGroups = map[string][]string{
	"group:memory":     {"memory_search", "memory_get"},
	"group:web":        {"web_search", "web_fetch"},
	"group:fs":         {"read", "write", "edit", "apply_patch"},
	"group:runtime":    {"exec", "process"},
	"group:sessions":   {"sessions_list", "sessions_history", "sessions_send", "sessions_spawn", "session_status"},
	"group:ui":         {"browser", "canvas"},
	"group:automation": {"cron", "gateway"},
	"group:messaging":  {"message"},
	"group:nodes":      {"nodes"},
}

// NormalizeToolName lowercases name and resolves aliases.
func NormalizeToolName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := toolAliases[n]; ok {
		return alias
	}
	return n
}

// ExpandGroups normalizes names and replaces group references with their
// members. The result is sorted and free of duplicates.
func ExpandGroups(names []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, name := range names {
		n := NormalizeToolName(name)
		if members, ok := ToolGroups[n]; ok {
			for _, m := range members {
				add(m)
			}
			continue
		}
		add(n)
	}
	slices.Sort(out)
	return out
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

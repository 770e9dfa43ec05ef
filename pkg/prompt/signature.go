package prompt

import (
	"sort"
	"strings"

	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/tools"
)

var pythonTypes = map[string]string{
	plan.TypeString:  "str",
	plan.TypeInteger: "int",
	plan.TypeNumber:  "float",
	plan.TypeBoolean: "bool",
	plan.TypeArray:   "list",
	plan.TypeObject:  "dict",
}

// pyType renders a schema type the way plan code spells it. Unions such as
// "string|integer" come from JSON schemas with several types.
func pyType(t, items string) string {
	if t == "" || t == plan.TypeAny {
		return "Any"
	}
	var parts []string
	for _, p := range strings.Split(t, "|") {
		name, ok := pythonTypes[p]
		if !ok {
			name = "Any"
		}
		if p == plan.TypeArray && items != "" {
			name = "list[" + pyType(items, "") + "]"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, " | ")
}

// ToolSignature renders a tool as a Python-style function stub, e.g.
//
//	def send_email(to: list[str], body: str, cc: list[str] | None = None) -> str:
//	    """Sends an email."""
func ToolSignature(spec tools.Spec) string {
	var b strings.Builder
	b.WriteString("def ")
	b.WriteString(spec.Name)
	b.WriteByte('(')
	for i, p := range orderedParams(spec.Params) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(pyType(p.Type, p.Items))
		if !p.Required {
			b.WriteString(" | None = None")
		}
	}
	b.WriteString(") -> ")
	ret := spec.Returns
	if ret == "" {
		ret = "Any"
	}
	b.WriteString(ret)
	b.WriteByte(':')
	if d := strings.TrimSpace(spec.Description); d != "" {
		b.WriteString("\n    \"\"\"")
		b.WriteString(strings.ReplaceAll(d, "\n", "\n    "))
		var docs []string
		for _, p := range spec.Params {
			if p.Description != "" {
				docs = append(docs, "    :param "+p.Name+": "+p.Description)
			}
		}
		if len(docs) > 0 {
			b.WriteString("\n\n")
			b.WriteString(strings.Join(docs, "\n"))
			b.WriteString("\n    ")
		}
		b.WriteString("\"\"\"")
	}
	b.WriteString("\n    ...")
	return b.String()
}

// orderedParams puts required parameters first, keeping declaration order
// within each group.
func orderedParams(params []tools.Param) []tools.Param {
	out := append([]tools.Param(nil), params...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Required && !out[j].Required
	})
	return out
}

// ToolSignatures renders every spec, sorted by tool name.
func ToolSignatures(specs []tools.Spec) string {
	sorted := append([]tools.Spec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	parts := make([]string, len(sorted))
	for i, s := range sorted {
		parts[i] = ToolSignature(s)
	}
	return strings.Join(parts, "\n\n")
}

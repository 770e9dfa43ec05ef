package tools

import (
	"slices"
	"strings"
)

// Param describes one tool parameter.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Items       string `json:"items,omitempty" yaml:"items,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Spec describes a tool to the planner.
type Spec struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Params      []Param `json:"params,omitempty" yaml:"params,omitempty"`
	Returns     string  `json:"returns,omitempty" yaml:"returns,omitempty"`
}

// Missing returns required parameters absent from args.
func (s Spec) Missing(args map[string]any) []string {
	var out []string
	for _, p := range s.Params {
		if _, ok := args[p.Name]; p.Required && !ok {
			out = append(out, p.Name)
		}
	}
	return out
}

// SpecFromJSONSchema builds a spec from a JSON-schema object describing
// the tool input. Required parameters come first, each group sorted.
func SpecFromJSONSchema(name, description string, schema map[string]any) Spec {
	s := Spec{Name: name, Description: strings.TrimSpace(description)}
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if n, ok := r.(string); ok {
				required[n] = true
			}
		}
	case []string:
		for _, n := range req {
			required[n] = true
		}
	}
	for n, raw := range props {
		p := Param{Name: n, Required: required[n]}
		if m, ok := raw.(map[string]any); ok {
			p.Type = schemaType(m["type"])
			p.Description, _ = m["description"].(string)
			if items, ok := m["items"].(map[string]any); ok {
				p.Items = schemaType(items["type"])
			}
		}
		s.Params = append(s.Params, p)
	}
	slices.SortFunc(s.Params, func(a, b Param) int {
		if a.Required != b.Required {
			if a.Required {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return s
}

func schemaType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var parts []string
		for _, x := range t {
			if s, ok := x.(string); ok && s != "null" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|")
	}
	return ""
}

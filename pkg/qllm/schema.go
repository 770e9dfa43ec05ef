package qllm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/jllopis/camel/pkg/plan"
)

var cueTypes = map[string]string{
	plan.TypeString:  "string",
	plan.TypeInteger: "int",
	plan.TypeNumber:  "number",
	plan.TypeBoolean: "bool",
	plan.TypeObject:  "{...}",
	plan.TypeAny:     "_",
	"":               "_",
}

func cueType(t, items string) string {
	if t == plan.TypeArray {
		if items == "" {
			return "[...]"
		}
		return "[..." + cueType(items, "") + "]"
	}
	if ct, ok := cueTypes[t]; ok {
		return ct
	}
	return "_"
}

// SchemaSource renders s as a closed CUE struct. Required fields must be
// present and concrete; optional fields may be absent or null.
func SchemaSource(s plan.Schema) string {
	var b strings.Builder
	b.WriteString("close({\n")
	fmt.Fprintf(&b, "\t%s: bool\n", strconv.Quote(EnoughField))
	for _, f := range s.Fields {
		if f.Name == EnoughField {
			continue
		}
		if f.Required {
			fmt.Fprintf(&b, "\t%s: %s\n", strconv.Quote(f.Name), cueType(f.Type, f.Items))
		} else {
			fmt.Fprintf(&b, "\t%s?: %s | null\n", strconv.Quote(f.Name), cueType(f.Type, f.Items))
		}
	}
	b.WriteString("})")
	return b.String()
}

// Validate checks an extraction answer against s. The answer must include
// EnoughField; when it is true every required field must be filled.
func Validate(s plan.Schema, answer map[string]any) error {
	enough, ok := answer[EnoughField].(bool)
	if !ok {
		return fmt.Errorf("answer has no boolean %s field", EnoughField)
	}
	if !enough {
		return nil
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(SchemaSource(s), cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema %s: %w", s.Name, err)
	}
	value := ctx.CompileBytes(raw, cue.Filename("answer.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("answer does not match %s: %w", schemaLabel(s), err)
	}
	return nil
}

func schemaLabel(s plan.Schema) string {
	if s.Name != "" {
		return s.Name
	}
	return "the schema"
}

// ParseAnswer extracts the JSON object from a model answer. The object may
// be bare, surrounded by prose, or inside a fenced block. Numbers are kept
// as json.Number.
func ParseAnswer(text string) (map[string]any, error) {
	body := strings.TrimSpace(text)
	if i := strings.Index(body, "```"); i >= 0 {
		rest := body[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			body = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in answer")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body[start : end+1])))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return out, nil
}

// project keeps the schema fields of an answer. Null optional fields are
// dropped.
func project(s plan.Schema, answer map[string]any) (map[string]any, []string) {
	data := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		if v, ok := answer[f.Name]; ok && v != nil {
			data[f.Name] = v
		}
	}
	var extra []string
	for k := range answer {
		if _, ok := s.Field(k); !ok && k != EnoughField {
			extra = append(extra, k)
		}
	}
	return data, extra
}

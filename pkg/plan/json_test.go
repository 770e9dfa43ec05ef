package plan

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func samplePlan() *Plan {
	return &Plan{
		Rationale: "list files then report",
		Format:    FormatJSON,
		Steps: []Step{
			&ToolStep{Tool: "exec", Args: []Arg{{Name: "command", Value: &Literal{Value: "ls"}}}, SaveAs: "out"},
			&AssignStep{SaveAs: "n", Value: &Call{Func: &Name{ID: "len"}, Args: []Expr{&Name{ID: "out"}}}},
			&AssignStep{SaveAs: "ratio", Value: &Binary{Op: "/", X: &Literal{Value: 3.0}, Y: &Literal{Value: int64(2)}}},
			&QLLMStep{
				Instruction: &Literal{Value: "find the sender"},
				Input:       &Attribute{X: &Name{ID: "out"}, Name: "body"},
				Schema: Schema{Name: "Sender", Fields: []Field{
					{Name: "email", Type: TypeString, Required: true},
					{Name: "tags", Type: TypeArray, Items: TypeString},
				}},
				SaveAs: "sender",
			},
			&IfStep{
				Condition: &Compare{Left: &Literal{Value: int64(0)}, Ops: []string{"<", "<="}, Comparators: []Expr{&Name{ID: "n"}, &Literal{Value: int64(10)}}},
				Then: []Step{
					&ForStep{
						Targets:  []string{"i", "line"},
						Iterable: &Call{Func: &Name{ID: "enumerate"}, Args: []Expr{&Name{ID: "out"}}},
						Body: []Step{
							&AssignStep{SaveAs: "last", Value: &Index{X: &Name{ID: "out"}, Index: &Name{ID: "i"}}},
						},
					},
				},
				Otherwise: []Step{&RaiseStep{Error: &Literal{Value: "too many"}}},
			},
			&UnpackStep{Targets: []string{"a", "b"}, Value: &TupleExpr{Elts: []Expr{&Literal{Value: int64(1)}, &Literal{Value: nil}}}},
			&AssignStep{SaveAs: "d", Value: &DictExpr{
				Keys:   []Expr{&Literal{Value: "z"}, &Literal{Value: "a"}},
				Values: []Expr{&Index{X: &Name{ID: "out"}, Index: &Literal{Value: int64(0)}}, &ListExpr{Elts: []Expr{&Literal{Value: true}}}},
			}},
			&AssignStep{SaveAs: "sq", Value: &Comprehension{
				Kind: CompDict, Key: &Name{ID: "x"}, Value: &Binary{Op: "*", X: &Name{ID: "x"}, Y: &Name{ID: "x"}},
				Clauses: []CompClause{{Targets: []string{"x"}, Iter: &Call{Func: &Name{ID: "range"}, Args: []Expr{&Literal{Value: int64(3)}}}, Ifs: []Expr{&Name{ID: "x"}}}},
			}},
			&AssignStep{SaveAs: "s", Value: &Call{
				Func:   &Attribute{X: &Literal{Value: ","}, Name: "join"},
				Args:   []Expr{&Slice{X: &Name{ID: "out"}, Hi: &Literal{Value: int64(2)}}},
				Kwargs: nil,
			}},
			&FinalStep{Text: "Found {{n}} files, last {{last}}"},
		},
	}
}

func TestPlanRoundTrip(t *testing.T) {
	p := samplePlan()
	raw, err := MarshalJSON(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalJSON(raw)
	if err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if !reflect.DeepEqual(back, p) {
		t.Fatalf("round trip changed plan:\n%s", raw)
	}
	again, err := MarshalJSON(back)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Fatalf("re-serialization differs:\n%s\n%s", raw, again)
	}
}

func TestMarshalUsesPlainJSONForDataAndVars(t *testing.T) {
	raw, err := MarshalJSON(samplePlan())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		`"args":{"command":"ls"}`,
		`"input":{"$var":"out.body"}`,
		`{"z":{"$var":"out.0"},"a":[true]}`,
		`"item":["i","line"]`,
		`"ratio","value":{"$expr":"binary","op":"/","x":3.0,"y":2}`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}

func TestUnmarshalHandWrittenPlan(t *testing.T) {
	src := `{
	  "rationale": "fetch and send",
	  "steps": [
	    {"kind": "tool", "tool": "web_fetch", "args": {"url": "https://example.com"}, "saveAs": "page"},
	    {"kind": "tool", "tool": "message", "args": {"action": "send", "to": "bob", "message": {"$var": "page.text"}}},
	    {"kind": "final", "text": "sent"}
	  ]
	}`
	p, err := UnmarshalJSON([]byte(src))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Rationale != "fetch and send" || len(p.Steps) != 3 {
		t.Fatalf("unexpected plan: %+v", p)
	}
	send := p.Steps[1].(*ToolStep)
	if send.SaveAs != "" || len(send.Args) != 3 || send.Args[2].Name != "message" {
		t.Fatalf("unexpected tool step: %+v", send)
	}
	want := &Attribute{X: &Name{ID: "page"}, Name: "text"}
	if !reflect.DeepEqual(send.Args[2].Value, want) {
		t.Fatalf("unexpected $var decoding: %#v", send.Args[2].Value)
	}
	if got := p.ToolNames(); !reflect.DeepEqual(got, []string{"web_fetch", "message"}) {
		t.Fatalf("unexpected tool names %v", got)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	cases := map[string]string{
		"unknown top key":  `{"steps": [], "extra": 1}`,
		"missing steps":    `{"rationale": "x"}`,
		"unknown kind":     `{"steps": [{"kind": "loop"}]}`,
		"unknown field":    `{"steps": [{"kind": "final", "text": "x", "saveAs": "y"}]}`,
		"bad saveAs":       `{"steps": [{"kind": "assign", "saveAs": "1x", "value": 1}]}`,
		"bad var":          `{"steps": [{"kind": "assign", "saveAs": "x", "value": {"$var": "a..b"}}]}`,
		"empty schema":     `{"steps": [{"kind": "qllm", "instruction": "x", "input": 1, "schema": {"fields": []}, "saveAs": "r"}]}`,
		"bad field type":   `{"steps": [{"kind": "qllm", "instruction": "x", "input": 1, "schema": {"fields": {"a": "date"}}, "saveAs": "r"}]}`,
		"duplicate key":    `{"steps": [], "steps": []}`,
		"trailing content": `{"steps": []} {}`,
		"not an object":    `[1, 2]`,
		"empty tool":       `{"steps": [{"kind": "tool", "tool": " "}]}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := UnmarshalJSON([]byte(src)); err == nil {
				t.Fatalf("expected error for %s", src)
			}
		})
	}
}

func TestSchemaObjectForm(t *testing.T) {
	src := `{"steps": [{"kind": "qllm", "instruction": "x", "input": {"$var": "doc"},
	  "schema": {"name": "Person", "fields": {"name": "string", "age": {"type": "integer", "required": false}}},
	  "saveAs": "person"}]}`
	p, err := UnmarshalJSON([]byte(src))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	q := p.Steps[0].(*QLLMStep)
	want := Schema{Name: "Person", Fields: []Field{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "age", Type: TypeInteger, Required: false},
	}}
	if !reflect.DeepEqual(q.Schema, want) {
		t.Fatalf("unexpected schema %+v", q.Schema)
	}
}

func TestParseVarPath(t *testing.T) {
	e, err := ParseVarPath("result.items.2.name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Attribute{
		X:    &Index{X: &Attribute{X: &Name{ID: "result"}, Name: "items"}, Index: &Literal{Value: int64(2)}},
		Name: "name",
	}
	if !reflect.DeepEqual(e, want) {
		t.Fatalf("unexpected path expr %#v", e)
	}
	for _, bad := range []string{"", "0abc", "a.", "a.b-c"} {
		if _, err := ParseVarPath(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestRecentIssues(t *testing.T) {
	var issues []Issue
	for i := 0; i < 6; i++ {
		issues = append(issues, Issue{Stage: StagePlan, Message: string(rune('a' + i)), Trusted: true})
	}
	got := Recent(issues, 4)
	if len(got) != 4 || got[0].Message != "c" || got[3].Message != "f" {
		t.Fatalf("unexpected window %v", got)
	}
	if Recent(issues[:2], 4)[1].Message != "b" {
		t.Fatalf("short list should be returned whole")
	}
	if Recent(issues, 0) != nil {
		t.Fatalf("zero window should be empty")
	}
}

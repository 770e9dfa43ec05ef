// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/interpreter"
	"github.com/jllopis/camel/pkg/llm"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/qllm"
	"github.com/jllopis/camel/pkg/tools"
	"github.com/jllopis/camel/pkg/trace"
)

const personClass = `class Person(BaseModel):
    name: str
    email: str | None = None
`

func TestPlanScenarioBlocksTaintedCommand(t *testing.T) {
	st := NewScriptedTools().
		On("read", "rm -rf /").
		On("exec", "ok")

	res := NewPlanScenario("tainted command").
		WithPlan(`cmd = read(path="notes.txt")
exec(command=cmd)
final("done")`).
		WithTools(st).
		ExpectState(interpreter.StateFinalized).
		ExpectAllowed("read").
		ExpectBlocked("exec", "not trusted").
		ExpectFinal(Equals("done")).
		Run(t)

	if calls := st.CallsTo("exec"); len(calls) != 0 {
		t.Fatalf("blocked tool was executed: %+v", calls)
	}
	a := NewAssertions(t)
	a.AssertEvent(res.Trace, trace.KindTool, "read").IsUntrusted().HasSource("tool:read")
	a.AssertEvent(res.Trace, trace.KindTool, "exec").IsBlocked()
}

func TestPlanScenarioStrict(t *testing.T) {
	NewPlanScenario("strict").
		WithPlan(`cmd = read(path="notes.txt")
exec(command=cmd)
final("done")`).
		WithTools(NewScriptedTools().On("read", "ls").On("exec", "ok")).
		WithOptions(interpreter.WithStrict(true)).
		ExpectState(interpreter.StateBlocked).
		ExpectIssue(Contains("exec")).
		Run(t)
}

func TestPlanScenarioUserInput(t *testing.T) {
	st := NewScriptedTools().On("exec", "ok")
	NewPlanScenario("trusted command").
		WithUserInput("query", "ls -la").
		WithPlan("```python\nexec(command=query)\nfinal(\"ran {{query}}\")\n```").
		WithTools(st).
		ExpectAllowed("exec").
		ExpectFinal(HasPrefix("ran ls")).
		Run(t)

	calls := st.Calls()
	if len(calls) != 1 || calls[0].Arguments["command"] != "ls -la" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestPlanScenarioCompilerError(t *testing.T) {
	NewPlanScenario("while loop").
		WithPlan("while True:\n    x = 1\nfinal(\"x\")").
		ExpectState(interpreter.StateCompilerError).
		ExpectNoToolCalls().
		Run(t)
}

func TestPlanScenarioFailedExpectations(t *testing.T) {
	s := NewPlanScenario("expectations").
		WithPlan(`final("hello")`).
		ExpectFinal(Equals("bye")).
		ExpectBlocked("exec", "").
		ExpectAllowed("read").
		ExpectState(interpreter.StateRaised)
	res := s.Execute(context.Background())
	if errs := s.Check(res); len(errs) != 4 {
		t.Fatalf("expected 4 failures, got %v", errs)
	}
}

func TestScriptedTools(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("boom")
	st := NewScriptedTools().
		On("read", "first", "second").
		OnResult("fetch", tools.Errorf("404")).
		OnFunc("echo", func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return tools.Text(args["text"].(string)), nil
		}).
		Fail("flaky", boom).
		WithSpec(tools.Spec{Name: "read", Description: "Read a file."})

	for _, want := range []string{"first", "second", "second"} {
		res, err := st.Execute(ctx, "read", nil)
		if err != nil || res.Content != want {
			t.Fatalf("read = %v, %v; want %q", res.Content, err, want)
		}
	}
	if res, _ := st.Execute(ctx, "fetch", nil); !res.IsError {
		t.Fatalf("expected an error result, got %+v", res)
	}
	if res, _ := st.Execute(ctx, "echo", map[string]any{"text": "hi"}); res.Content != "hi" {
		t.Fatalf("unexpected echo %+v", res)
	}
	if _, err := st.Execute(ctx, "flaky", nil); !stderrors.Is(err, boom) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	if _, err := st.Execute(ctx, "missing", nil); !stderrors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected unknown tool, got %v", err)
	}

	specs, _ := st.Specs(ctx)
	if len(specs) != 4 || specs[3].Name != "read" || specs[3].Description != "Read a file." {
		t.Fatalf("unexpected specs %+v", specs)
	}
	if n := len(st.Calls()); n != 7 {
		t.Fatalf("expected 7 recorded calls, got %d", n)
	}
	st.Reset()
	if res, _ := st.Execute(ctx, "read", nil); res.Content != "first" {
		t.Fatalf("reset should rewind results, got %v", res.Content)
	}
}

func TestScriptedExtractor(t *testing.T) {
	schema := plan.Schema{Name: "Person", Fields: []plan.Field{
		{Name: "name", Type: "string", Required: true},
		{Name: "email", Type: "string"},
	}}
	ex := NewScriptedExtractor().
		WithModel("q-test").
		Answer("Person", map[string]any{"name": "Ada"}).
		Insufficient("Person")
	ctx := context.Background()

	resp, err := ex.Extract(ctx, qllm.Request{Instruction: "who", Input: "Ada", Schema: schema})
	if err != nil || !resp.HaveEnoughInformation || resp.Data["name"] != "Ada" || resp.Model != "q-test" {
		t.Fatalf("unexpected response %+v, %v", resp, err)
	}
	if _, ok := resp.Data[qllm.EnoughField]; ok {
		t.Fatalf("flag should not be part of the data: %v", resp.Data)
	}
	resp, err = ex.Extract(ctx, qllm.Request{Schema: schema})
	if err != nil || resp.HaveEnoughInformation || len(resp.Data) != 0 {
		t.Fatalf("expected insufficient answer, got %+v, %v", resp, err)
	}
	if _, err := ex.Extract(ctx, qllm.Request{Schema: plan.Schema{Name: "Other"}}); !errors.IsCode(err, errors.CodeLLMError) {
		t.Fatalf("expected LLM error for unscripted schema, got %v", err)
	}
	if n := len(ex.Requests()); n != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", n)
	}

	bad := NewScriptedExtractor().Answer("Person", map[string]any{"name": 42})
	if _, err := bad.Extract(ctx, qllm.Request{Schema: schema}); err == nil {
		t.Fatal("expected schema validation to reject a number name")
	}
}

func TestPlanScenarioExtraction(t *testing.T) {
	ex := NewScriptedExtractor().Answer("Person", map[string]any{"name": "Ada", "email": "ada@example.com"})
	res := NewPlanScenario("extraction").
		WithPlan(personClass + `
doc = read(path="card.txt")
person = query_quarantined_llm("extract the person", doc, output_schema=Person)
final("{{person.name}} <{{person.email}}>")`).
		WithTools(NewScriptedTools().On("read", "Ada Lovelace, ada@example.com")).
		WithExtractor(ex).
		ExpectFinal(Equals("Ada <ada@example.com>")).
		Run(t)

	NewAssertions(t).AssertUntrusted(res.Env["person"], capability.QLLMSource("scripted"), "person")
	if reqs := ex.Requests(); len(reqs) != 1 || reqs[0].Input != "Ada Lovelace, ada@example.com" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestPlanScenarioInsufficientExtraction(t *testing.T) {
	res := NewPlanScenario("insufficient").
		WithPlan(personClass + `
person = query_quarantined_llm("extract the person", "nothing", output_schema=Person)
final("{{person.name}}")`).
		WithExtractor(NewScriptedExtractor().Insufficient("Person")).
		ExpectState(interpreter.StateRaised).
		ExpectIssue(Contains("enough information")).
		Run(t)
	NewAssertions(t).AssertErrorCode(res.Err, errors.CodeExtractionInsufficient, "insufficient extraction")
}

func TestStringMatchers(t *testing.T) {
	tests := []struct {
		name    string
		matcher StringMatcher
		input   string
		want    bool
	}{
		{"contains match", Contains("world"), "hello world", true},
		{"contains no match", Contains("foo"), "hello world", false},
		{"equals match", Equals("hello"), "hello", true},
		{"equals no match", Equals("hello"), "hello world", false},
		{"regex match", Regex(`^h.*d$`), "hello world", true},
		{"regex invalid", Regex(`(`), "(", false},
		{"prefix match", HasPrefix("hello"), "hello world", true},
		{"suffix match", HasSuffix("world"), "hello world", true},
		{"suffix no match", HasSuffix("hello"), "hello world", false},
		{"not", Not(Contains("x")), "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.matcher.Match(tt.input); got != tt.want {
				t.Errorf("%s on %q = %v, want %v", tt.matcher.Description(), tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestAssertions(t *testing.T) {
	p := llm.NewScriptedMockProvider(`{"have_enough_information": false}`)
	if _, err := llm.CompleteJSON(context.Background(), p, "q", "system rules", "user data"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	req := p.Requests[0]
	NewAssertions(t).AssertRequest(&req).
		HasModel("q").
		HasSystemMessage("rules").
		HasUserMessage("data").
		HasNoTools().
		WantsJSON()
}

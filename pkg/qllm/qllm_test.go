package qllm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	cerrors "github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/llm"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/resilience"
)

var person = plan.Schema{Name: "Person", Fields: []plan.Field{
	{Name: "name", Type: plan.TypeString, Required: true},
	{Name: "age", Type: plan.TypeInteger},
	{Name: "tags", Type: plan.TypeArray, Items: plan.TypeString},
}}

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(time.Millisecond)
}

func TestSchemaSource(t *testing.T) {
	want := `close({
	"have_enough_information": bool
	"name": string
	"age"?: int | null
	"tags"?: [...string] | null
})`
	if got := SchemaSource(person); got != want {
		t.Fatalf("unexpected schema:\n%s", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		ok     bool
	}{
		{"complete", `{"have_enough_information": true, "name": "Ada", "age": 36, "tags": ["math"]}`, true},
		{"optional absent", `{"have_enough_information": true, "name": "Ada"}`, true},
		{"optional null", `{"have_enough_information": true, "name": "Ada", "age": null}`, true},
		{"insufficient skips fields", `{"have_enough_information": false}`, true},
		{"missing required", `{"have_enough_information": true, "age": 3}`, false},
		{"wrong type", `{"have_enough_information": true, "name": 5}`, false},
		{"float for int", `{"have_enough_information": true, "name": "Ada", "age": 3.5}`, false},
		{"bad list item", `{"have_enough_information": true, "name": "Ada", "tags": [1]}`, false},
		{"unknown field", `{"have_enough_information": true, "name": "Ada", "admin": true}`, false},
		{"no flag", `{"name": "Ada"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer, err := ParseAnswer(tc.answer)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			err = Validate(person, answer)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}
}

func TestParseAnswer(t *testing.T) {
	cases := []string{
		`{"have_enough_information": true, "n": 2}`,
		"Sure!\n```json\n{\"have_enough_information\": true, \"n\": 2}\n```\n",
		`Here it is: {"have_enough_information": true, "n": 2} hope it helps`,
	}
	for _, text := range cases {
		got, err := ParseAnswer(text)
		if err != nil {
			t.Fatalf("ParseAnswer(%q): %v", text, err)
		}
		if got["n"] != json.Number("2") {
			t.Fatalf("unexpected value %#v", got["n"])
		}
	}
	if _, err := ParseAnswer("no json here"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestExtractorFillsSchema(t *testing.T) {
	mock := llm.NewScriptedMockProvider(`{"have_enough_information": true, "name": "Ada", "age": 36, "note": "extra", "tags": null}`)
	e := NewLLMExtractor(mock, "q-1", WithRetry(fastRetry()))
	resp, err := e.Extract(context.Background(), Request{
		Instruction: "who is it",
		Input:       "Ada, 36",
		Schema:      person,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !resp.HaveEnoughInformation || resp.Model != "q-1" || resp.Attempts != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Data["name"] != "Ada" || resp.Data["age"] != json.Number("36") {
		t.Fatalf("unexpected data %#v", resp.Data)
	}
	if _, ok := resp.Data["note"]; ok {
		t.Fatalf("unknown fields must be dropped")
	}
	if _, ok := resp.Data["tags"]; ok {
		t.Fatalf("null optional fields must be dropped")
	}
	req := mock.Requests[0]
	if !req.JSON || len(req.Tools) != 0 || req.Model != "q-1" {
		t.Fatalf("unexpected chat request %+v", req)
	}
	if !strings.Contains(mock.LastUserMessage(0), "Ada, 36") {
		t.Fatalf("input missing from prompt")
	}
}

func TestExtractorRefinesOnce(t *testing.T) {
	mock := llm.NewScriptedMockProvider(
		`{"have_enough_information": false}`,
		`{"have_enough_information": true, "name": "Bob"}`,
	)
	e := NewLLMExtractor(mock, "q-1", WithRetry(fastRetry()))
	resp, err := e.Extract(context.Background(), Request{Instruction: "who", Input: "Bob", Schema: person})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !resp.HaveEnoughInformation || resp.Attempts != 2 || resp.Data["name"] != "Bob" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(mock.LastUserMessage(1), "Read all of the data again") {
		t.Fatalf("second attempt should be refined")
	}
}

func TestExtractorReportsInsufficient(t *testing.T) {
	mock := llm.NewScriptedMockProvider(
		`{"have_enough_information": false}`,
		`{"have_enough_information": false, "name": "guess"}`,
	)
	e := NewLLMExtractor(mock, "q-1", WithRetry(fastRetry()))
	resp, err := e.Extract(context.Background(), Request{Instruction: "who", Input: "", Schema: person})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if resp.HaveEnoughInformation || len(resp.Data) != 0 || resp.Attempts != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}

	mock = llm.NewScriptedMockProvider(`{"have_enough_information": false}`)
	e = NewLLMExtractor(mock, "q-1", WithRetry(fastRetry()), WithRefinements(0))
	if resp, _ := e.Extract(context.Background(), Request{Schema: person}); resp.Attempts != 1 {
		t.Fatalf("refinements disabled, got %d attempts", resp.Attempts)
	}
}

func TestExtractorRetriesInvalidAnswers(t *testing.T) {
	mock := llm.NewScriptedMockProvider(
		`not json`,
		`{"have_enough_information": true, "name": 7}`,
		`{"have_enough_information": true, "name": "Cy"}`,
	)
	e := NewLLMExtractor(mock, "q-1", WithRetry(fastRetry()))
	resp, err := e.Extract(context.Background(), Request{Schema: person})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if resp.Attempts != 3 || resp.Data["name"] != "Cy" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestExtractorTransportFailure(t *testing.T) {
	mock := llm.NewScriptedMockProvider()
	mock.Err = errors.New("connection refused")
	e := NewLLMExtractor(mock, "q-1", WithRetry(fastRetry().WithMaxAttempts(2)))
	resp, err := e.Extract(context.Background(), Request{Schema: person})
	if !cerrors.IsCode(err, cerrors.CodeLLMError) {
		t.Fatalf("expected LLM error, got %v", err)
	}
	if resp.Attempts != 2 || mock.CallCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", resp.Attempts)
	}
}

func TestExtractorRejectsToolCalls(t *testing.T) {
	calls := 0
	mock := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: "send_email"}}}}, nil
	}}
	e := NewLLMExtractor(mock, "q-1", WithRetry(fastRetry()))
	_, err := e.Extract(context.Background(), Request{Schema: person})
	if !errors.Is(err, llm.ErrToolCall) || calls != 1 {
		t.Fatalf("expected a single rejected tool call, got %d calls (%v)", calls, err)
	}
}

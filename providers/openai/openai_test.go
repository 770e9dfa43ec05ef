package openai

import (
	"testing"

	"github.com/openai/openai-go"

	"github.com/jllopis/camel/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New()
	if p.model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, p.model)
	}
	p = New(WithModel("gpt-4.1"), WithBaseURL("http://localhost:8000/v1"), WithAPIKey("k"))
	if p.model != "gpt-4.1" || len(p.options) != 2 {
		t.Errorf("unexpected provider %+v", p)
	}
}

func TestParams(t *testing.T) {
	p := New(WithModel("fallback"))
	params := p.params(llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "plan"},
			{Role: llm.RoleUser, Content: "do it"},
		},
		JSON: true,
	})
	if params.Model != "fallback" {
		t.Errorf("expected default model, got %s", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil {
		t.Errorf("unexpected messages %+v", params.Messages)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("JSON requests should ask for a JSON object")
	}

	params = p.params(llm.ChatRequest{Model: "explicit"})
	if params.Model != "explicit" || params.ResponseFormat.OfJSONObject != nil {
		t.Errorf("unexpected params %+v", params)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := convertResponse(&openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "```python\nfinal(\"ok\")\n```",
			},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	if resp.Content != "```python\nfinal(\"ok\")\n```" || resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls %+v", resp.ToolCalls)
	}

	if empty := convertResponse(&openai.ChatCompletion{}); empty.Content != "" {
		t.Errorf("expected empty content, got %q", empty.Content)
	}
}

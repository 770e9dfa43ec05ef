package gemini

import (
	"testing"

	"google.golang.org/genai"

	"github.com/jllopis/camel/pkg/llm"
)

func TestConvertRequest(t *testing.T) {
	contents, config := convertRequest(llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a planner"},
			{Role: llm.RoleUser, Content: "Hello"},
			{Role: llm.RoleAssistant, Content: "Hi"},
		},
		Temperature: 0.2,
		JSON:        true,
	})
	if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("unexpected contents %+v", contents)
	}
	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "You are a planner" {
		t.Errorf("system instruction not set: %+v", config.SystemInstruction)
	}
	if config.ResponseMIMEType != "application/json" {
		t.Errorf("expected JSON mime type, got %q", config.ResponseMIMEType)
	}
	if config.Temperature == nil || *config.Temperature != float32(0.2) {
		t.Errorf("unexpected temperature %v", config.Temperature)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "```python\n"},
				{Text: "final(\"ok\")\n```"},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 3, CandidatesTokenCount: 4, TotalTokenCount: 7,
		},
	})
	if resp.Content != "```python\nfinal(\"ok\")\n```" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}

	call := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{Name: "read", Args: map[string]any{"path": "x"}}},
			}},
		}},
	})
	if len(call.ToolCalls) != 1 || call.ToolCalls[0].Function.Arguments != `{"path":"x"}` {
		t.Errorf("unexpected tool calls %+v", call.ToolCalls)
	}

	if empty := convertResponse(&genai.GenerateContentResponse{}); empty.Content != "" {
		t.Errorf("expected empty response, got %+v", empty)
	}
}

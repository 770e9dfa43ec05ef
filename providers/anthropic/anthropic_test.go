package anthropic

import (
	"strings"
	"testing"

	"github.com/jllopis/camel/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New()
	if p.model != DefaultModel || p.maxTokens != DefaultMaxTokens {
		t.Errorf("unexpected defaults %s %d", p.model, p.maxTokens)
	}
	p = New(WithModel("claude-opus-4-20250514"), WithMaxTokens(8192), WithAPIKey("k"))
	if p.model != "claude-opus-4-20250514" || p.maxTokens != 8192 || len(p.options) != 1 {
		t.Errorf("unexpected provider %+v", p)
	}
}

func TestParamsExtractSystem(t *testing.T) {
	p := New()
	params := p.params(llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You extract data."},
			{Role: llm.RoleUser, Content: "input"},
			{Role: llm.RoleAssistant, Content: "{}"},
		},
		JSON: true,
	})
	if len(params.Messages) != 2 {
		t.Fatalf("system message should be lifted out, got %d messages", len(params.Messages))
	}
	if params.Model != DefaultModel {
		t.Errorf("expected default model, got %s", params.Model)
	}
	if len(params.System) != 1 {
		t.Fatalf("expected one system block, got %d", len(params.System))
	}
	sys := params.System[0].Text
	if !strings.HasPrefix(sys, "You extract data.") || !strings.HasSuffix(sys, jsonInstruction) {
		t.Errorf("unexpected system prompt %q", sys)
	}
}

func TestParamsWithoutSystem(t *testing.T) {
	params := New().params(llm.ChatRequest{
		Model:    "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if params.Model != "m" || len(params.System) != 0 {
		t.Errorf("unexpected params %+v", params)
	}
}

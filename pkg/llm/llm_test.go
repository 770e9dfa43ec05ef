package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
}

func TestCompleteBuildsMessages(t *testing.T) {
	mock := NewScriptedMockProvider("plan")
	out, err := Complete(context.Background(), mock, "m1", "sys", "user")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "plan" {
		t.Fatalf("unexpected output %q", out)
	}
	req := mock.Requests[0]
	if req.Model != "m1" || len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
		t.Fatalf("unexpected request %+v", req)
	}
	if mock.LastUserMessage(0) != "user" {
		t.Fatalf("unexpected user message %q", mock.LastUserMessage(0))
	}

	if _, err := Complete(context.Background(), mock, "m1", "", "again"); err == nil {
		t.Fatalf("expected error once the script is exhausted")
	}
	if len(mock.Requests[1].Messages) != 1 {
		t.Fatalf("empty system prompt should be omitted")
	}
}

func TestCompleteRejectsToolCalls(t *testing.T) {
	mock := &MockProvider{ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{ToolCalls: []ToolCall{{Type: ToolTypeFunction, Function: FunctionCall{Name: "exec"}}}}, nil
	}}
	_, err := Complete(context.Background(), mock, "", "", "x")
	if !errors.Is(err, ErrToolCall) {
		t.Fatalf("expected ErrToolCall, got %v", err)
	}
}

func TestOllamaChat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"ok\":true}"},"done":true,"eval_count":3,"prompt_eval_count":4}`))
	}))
	defer srv.Close()

	p := NewOllama(srv.URL + "/")
	out, err := CompleteJSON(context.Background(), p, "llama3", "", "extract")
	if err != nil {
		t.Fatalf("CompleteJSON failed: %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("unexpected content %q", out)
	}
	if got.Format != "json" || got.Stream || got.Model != "llama3" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL).Chat(context.Background(), ChatRequest{Model: "x"})
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("unexpected error %v", err)
	}
}

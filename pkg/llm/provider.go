// Package llm is the model transport used to obtain plans, extractions and
// final replies.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolType represents the type of tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// FunctionDef defines a function tool.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"` // JSON Schema
}

// Tool represents a tool available to the LLM.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionCall represents a call to a function tool.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string containing arguments
}

// ToolCall represents a request from the LLM to call a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Optional for some providers but good to have
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is a single unit of communication.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // Used for tool role messages
}

// ChatRequest encapsulates the input for the LLM.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	// JSON asks the backend to constrain its output to a JSON document.
	JSON bool `json:"json,omitempty"`
}

// ChatResponse encapsulates the output from the LLM.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for interacting with LLM backends.
type Provider interface {
	// Chat sends a chat request to the LLM and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ErrToolCall is returned by Complete when the model answers with tool
// calls instead of text. Planning and extraction prompts never offer tools.
var ErrToolCall = errors.New("model requested a tool call")

// Complete sends a system and user prompt and returns the response text.
// An empty system prompt is omitted.
func Complete(ctx context.Context, p Provider, model, system, user string) (string, error) {
	return complete(ctx, p, ChatRequest{Model: model}, system, user)
}

// CompleteJSON is Complete with the JSON output constraint set.
func CompleteJSON(ctx context.Context, p Provider, model, system, user string) (string, error) {
	return complete(ctx, p, ChatRequest{Model: model, JSON: true}, system, user)
}

func complete(ctx context.Context, p Provider, req ChatRequest, system, user string) (string, error) {
	if p == nil {
		return "", errors.New("llm: no provider configured")
	}
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	req.Messages = msgs
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.ToolCalls) > 0 {
		return "", fmt.Errorf("%w: %s", ErrToolCall, resp.ToolCalls[0].Function.Name)
	}
	return resp.Content, nil
}

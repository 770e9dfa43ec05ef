// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic is an llm.Provider for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/camel/pkg/llm"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// jsonInstruction is appended to the system prompt of JSON requests; the
// Messages API has no output format switch.
const jsonInstruction = "Respond with a single JSON document and nothing else."

// Provider implements llm.Provider for Anthropic.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	options   []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithMaxTokens sets the maximum tokens for responses.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) { p.maxTokens = tokens }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithBaseURL(url)) }
}

// WithAPIKey sets the API key. ANTHROPIC_API_KEY is used otherwise.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithAPIKey(apiKey)) }
}

// New creates a provider.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel, maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.options...)
	return p
}

// Chat implements llm.Provider. Tool definitions are not forwarded.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	message, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic message failed: %w", err)
	}
	return convertResponse(message), nil
}

func (p *Provider) params(req llm.ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case llm.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if req.JSON {
		system = append(system, jsonInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	resp.Content = text.String()
	return resp
}

var _ llm.Provider = (*Provider)(nil)

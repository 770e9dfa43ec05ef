// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai is an llm.Provider for the OpenAI chat completions API and
// compatible servers.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jllopis/camel/pkg/llm"
)

// DefaultModel is used when neither the request nor WithModel names one.
const DefaultModel = "gpt-5-mini"

// Provider implements llm.Provider for OpenAI.
type Provider struct {
	client  openai.Client
	model   string
	options []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the client at a compatible server or proxy.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithBaseURL(url)) }
}

// WithAPIKey sets the API key. OPENAI_API_KEY is used otherwise.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithAPIKey(apiKey)) }
}

// New creates a provider.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.options...)
	return p
}

// Chat implements llm.Provider. Tool definitions are not forwarded.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	return convertResponse(completion), nil
}

func (p *Provider) params(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	msg := completion.Choices[0].Message
	resp.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}

var _ llm.Provider = (*Provider)(nil)

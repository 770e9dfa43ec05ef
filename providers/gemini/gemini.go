// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini is an llm.Provider for the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/jllopis/camel/pkg/llm"
)

// DefaultModel is used when neither the request nor WithModel names one.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider for Gemini.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New creates a provider. The API key is read from GOOGLE_API_KEY or
// GEMINI_API_KEY unless apiKey is set.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	var cc *genai.ClientConfig
	if apiKey != "" {
		cc = &genai.ClientConfig{APIKey: apiKey}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p := &Provider{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Chat implements llm.Provider. Tool definitions are not forwarded.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, config := convertRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}
	return convertResponse(resp), nil
}

func convertRequest(req llm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	return contents, config
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		out.Content += part.Text
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   part.FunctionCall.Name,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return out
}

var _ llm.Provider = (*Provider)(nil)

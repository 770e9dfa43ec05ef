package llm

import (
	"context"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat returns the configured response, error or ChatFunc result.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response, Usage: mockUsage}, nil
}

var mockUsage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}

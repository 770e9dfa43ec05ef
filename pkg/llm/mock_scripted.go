package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider returns a pre-defined sequence of responses and
// records every request it receives. Useful for the repair loop, where each
// attempt is a new planner turn.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	// Requests holds every request in call order.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a new ScriptedMockProvider.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	content := s.Responses[0]
	s.Responses = s.Responses[1:]
	return &ChatResponse{Content: content, Usage: mockUsage}, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, response)
}

// CallCount reports how many times Chat has been called.
func (s *ScriptedMockProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// LastUserMessage returns the last user message of the i-th request.
func (s *ScriptedMockProvider) LastUserMessage(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Requests) {
		return ""
	}
	msgs := s.Requests[i].Messages
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == RoleUser {
			return msgs[j].Content
		}
	}
	return ""
}

package ai

import (
	"context"
	"sync"
)

// MockProvider is a test double for AI providers. It is safe for
// concurrent use.
type MockProvider struct {
	Response string
	Err      error
	// Handler, when set, computes the reply instead of Response/Err.
	Handler func(req CompletionRequest) (string, error)

	mu          sync.Mutex
	calls       int
	lastRequest *CompletionRequest
}

// NewMockProvider creates a MockProvider that returns the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

func (m *MockProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	m.calls++
	m.lastRequest = &req
	m.mu.Unlock()

	content, err := m.Response, m.Err
	if m.Handler != nil {
		content, err = m.Handler(req)
	}
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{
		Content:      content,
		Model:        "mock",
		InputTokens:  10,
		OutputTokens: len(content),
	}, nil
}

func (m *MockProvider) HealthCheck(_ context.Context) error {
	return m.Err
}

// Calls returns how many completions were requested.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// ScriptedReply is one step of a ScriptedProvider.
type ScriptedReply struct {
	Content string
	Err     error
}

// ScriptedProvider replays replies in order and repeats the last one.
type ScriptedProvider struct {
	mu      sync.Mutex
	replies []ScriptedReply
	next    int
}

// NewScriptedProvider creates a provider that answers with replies in order.
func NewScriptedProvider(replies ...ScriptedReply) *ScriptedProvider {
	return &ScriptedProvider{replies: replies}
}

func (s *ScriptedProvider) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return CompletionResponse{}, context.DeadlineExceeded
	}
	r := s.replies[min(s.next, len(s.replies)-1)]
	s.next++
	if r.Err != nil {
		return CompletionResponse{}, r.Err
	}
	return CompletionResponse{Content: r.Content, Model: "scripted", InputTokens: 10, OutputTokens: len(r.Content)}, nil
}

func (s *ScriptedProvider) HealthCheck(_ context.Context) error { return nil }

// Calls returns how many completions were requested.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Package ai provides a provider-agnostic client for the external
// generative-model service, with task-based routing.
package ai

import "context"

// TaskType defines the kind of AI task for routing purposes.
type TaskType int

const (
	TaskClustering TaskType = iota
	TaskSequencing
)

func (t TaskType) String() string {
	switch t {
	case TaskClustering:
		return "clustering"
	case TaskSequencing:
		return "sequencing"
	default:
		return "unknown"
	}
}

// ParseTask maps a task name back to its TaskType.
func ParseTask(s string) (TaskType, bool) {
	switch s {
	case "clustering":
		return TaskClustering, true
	case "sequencing":
		return TaskSequencing, true
	default:
		return 0, false
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	// JSONMode asks providers that support it for a JSON-only reply.
	JSONMode bool     `json:"json_mode,omitempty"`
	Task     TaskType `json:"task,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	HealthCheck(ctx context.Context) error
}

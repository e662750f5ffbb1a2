package agent

import "context"

// LLMProvider is the shared contract the three AgentRunner backends
// (primary subscription agent, Gemini, OpenRouter) implement. Only one
// provider is active per session at a time; FailoverOrchestrator swaps
// between them on a fallback-eligible error without losing the caller's
// conversation history.
type LLMProvider interface {
	// Complete sends a full conversation and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name, used in logs and in the "current
	// provider" field of an ActiveSession.
	Name() string

	// Models returns the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether the provider can accept tool
	// definitions. The memory daemon never defines tools itself; this
	// exists so the interface matches what a general-purpose provider
	// adapter looks like and so future callers can branch on it.
	SupportsTools() bool
}

// CompletionRequest is one turn sent to a provider: the system prompt plus
// the full (possibly truncated) conversation history.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage is one turn of conversation history.
type CompletionMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CompletionChunk is one piece of a streaming response. A provider's final
// chunk has Done set and carries token usage.
type CompletionChunk struct {
	Text         string `json:"text,omitempty"`
	Done         bool   `json:"done,omitempty"`
	Error        error  `json:"-"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Model describes one model a provider exposes.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

package ai

import "context"

// ChatProvider defines the contract for LLM chat completion backends.
type ChatProvider interface {
	// Name returns the provider name for logging and usage accounting.
	Name() string

	// Chat sends a non-streaming chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends a streaming chat completion request.
	// Chunks arrive on the first channel in provider order; the error channel
	// receives at most one error and is closed when the stream ends.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, <-chan error)
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONResponse asks the provider for a JSON object response
	// (response_format {"type":"json_object"}).
	JSONResponse bool
}

// Message represents a single message in the conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatResponse represents the response from a chat completion.
type ChatResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatStreamChunk represents a single content delta in a streaming response.
type ChatStreamChunk struct {
	Delta string
	// Usage is only present on the final chunk, when the provider reports it.
	Usage *Usage
}

// Package llm defines the Provider interface for Large Language Model
// backends.
//
// The decision layer drives a single conversational model through this
// interface: it sends the running history plus a system instruction and
// receives one reply. Implementors must be safe for concurrent use and must
// propagate context cancellation promptly.
package llm

import "context"

// Message is one turn of the conversation sent to the model. Role is "user",
// "model" or "system" in the assistant's own vocabulary; implementations map
// it to their backend's role names.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting information returned by the backend. Counts
// are in the model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message drives
	// the response.
	Messages []Message

	// SystemPrompt is the persona instruction injected before the history.
	SystemPrompt string

	// Temperature controls output randomness. Zero means the provider
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

package brain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
)

// Session is the running chat with the model: the conversation history plus
// the session identifier under which turns are persisted. Reset starts a
// fresh session with a new identifier.
//
// Session is safe for concurrent use, though the decision layer only ever
// drives it from the orchestrator's goroutine.
type Session struct {
	mu      sync.Mutex
	id      string
	history []llm.Message

	provider    llm.Provider
	system      string
	temperature float64
	metrics     *observe.Metrics
}

// NewSession opens a chat session against provider with the given persona
// instruction.
func NewSession(provider llm.Provider, system string, temperature float64, metrics *observe.Metrics) *Session {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		id:          uuid.NewString(),
		provider:    provider,
		system:      system,
		temperature: temperature,
		metrics:     metrics,
	}
}

// ID returns the current session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Send appends userText to the history, asks the model for a reply, appends
// the reply and returns it. On error the history keeps the user turn so a
// retry does not lose it.
func (s *Session) Send(ctx context.Context, userText string) (string, error) {
	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "user", Content: userText})
	req := llm.CompletionRequest{
		Messages:     append([]llm.Message(nil), s.history...),
		SystemPrompt: s.system,
		Temperature:  s.temperature,
	}
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		s.metrics.RecordLLM(ctx, time.Since(start).Seconds(), "error")
		return "", fmt.Errorf("brain: llm completion: %w", err)
	}
	s.metrics.RecordLLM(ctx, time.Since(start).Seconds(), "ok")

	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "model", Content: resp.Content})
	s.mu.Unlock()
	return resp.Content, nil
}

// Reset clears the history and rotates the session identifier.
func (s *Session) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.id = uuid.NewString()
	return s.id
}

package brain

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
	llmmock "github.com/buddy-assistant/buddy/pkg/provider/llm/mock"
)

func newSessionMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestSession_SendAccumulatesHistory(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "reply"},
	}
	s := NewSession(provider, "persona", 0.7, newSessionMetrics(t))

	if _, err := s.Send(context.Background(), "first"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Send(context.Background(), "second"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls: want 2, got %d", len(calls))
	}
	// The second request must carry the full exchange so far.
	msgs := calls[1].Req.Messages
	if len(msgs) != 3 {
		t.Fatalf("second request history: want 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "reply" || msgs[2].Content != "second" {
		t.Errorf("history order wrong: %+v", msgs)
	}
	if calls[1].Req.SystemPrompt != "persona" {
		t.Errorf("system prompt: %q", calls[1].Req.SystemPrompt)
	}
}

func TestSession_SendKeepsUserTurnOnError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteErr: errors.New("down")}
	s := NewSession(provider, "", 0, newSessionMetrics(t))

	if _, err := s.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Send: expected error")
	}

	provider.CompleteErr = nil
	provider.CompleteResponse = &llm.CompletionResponse{Content: "ok"}
	if _, err := s.Send(context.Background(), "again"); err != nil {
		t.Fatalf("Send retry: %v", err)
	}

	calls := provider.Calls()
	last := calls[len(calls)-1].Req.Messages
	if len(last) != 2 || last[0].Content != "hello" || last[1].Content != "again" {
		t.Errorf("failed turn lost from history: %+v", last)
	}
}

func TestSession_ResetRotatesIdentifier(t *testing.T) {
	t.Parallel()

	s := NewSession(&llmmock.Provider{}, "", 0, newSessionMetrics(t))
	before := s.ID()
	after := s.Reset()
	if before == after || s.ID() != after {
		t.Errorf("identifier did not rotate: %q -> %q", before, after)
	}
}

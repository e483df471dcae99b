// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/buddy-assistant/buddy/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider. The zero value returns
// a short fake WAV payload for every call.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. When nil a placeholder payload is
	// returned instead.
	Audio []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Texts records every synthesized text in order.
	Texts []string
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns the configured audio or error.
func (p *Provider) Synthesize(_ context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Audio != nil {
		return p.Audio, nil
	}
	return []byte("RIFFfakewav"), nil
}

// Synthesized returns a copy of the recorded texts.
func (p *Provider) Synthesized() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}

// Package mock provides a deterministic test double for the
// embeddings.Provider interface. Vectors are derived from the text content
// so equal texts embed equally, which is all the memory-store tests need.
package mock

import (
	"context"
	"sync"

	"github.com/buddy-assistant/buddy/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector size produced. Defaults to 8 when zero.
	Dim int

	// Err, if non-nil, is returned from Embed and EmbedBatch.
	Err error

	// Texts records every embedded text in order.
	Texts []string
}

var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	p.Texts = append(p.Texts, text)
	return vectorFor(text, p.dim()), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dim() }

// vectorFor derives a stable pseudo-embedding from the text bytes.
func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i, b := range []byte(text) {
		v[i%dim] += float32(b) / 255
	}
	return v
}

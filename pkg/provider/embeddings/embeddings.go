// Package embeddings defines the Provider interface for text embedding
// backends used by the vector-indexed memory store.
package embeddings

import "context"

// Provider turns text into dense vectors. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector size this provider produces.
	Dimensions() int
}

// Package tts defines the Provider interface for text-to-speech backends.
package tts

import "context"

// Provider synthesizes speech from text.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// Synthesize renders text as a complete RIFF/WAV byte stream ready for
	// playback.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

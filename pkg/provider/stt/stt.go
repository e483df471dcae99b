// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider opens transcription sessions: the caller feeds raw PCM audio
// into a session and receives finalized utterance transcripts on a channel.
// Implementors must be safe for concurrent use; the channel returned by
// Finals must be closed by the implementation when the session ends.
package stt

import "context"

// Transcript is one finalized utterance.
type Transcript struct {
	// Text is the recognized utterance, trimmed of surrounding whitespace.
	Text string
}

// StreamConfig describes the PCM audio a session will receive. Zero fields
// fall back to provider defaults.
type StreamConfig struct {
	// SampleRate in Hz of the 16-bit little-endian PCM chunks.
	SampleRate int
	// Channels is the interleaved channel count, usually 1.
	Channels int
	// Language is the BCP-47 hint forwarded to the recognizer.
	Language string
}

// SessionHandle is one live transcription session.
type SessionHandle interface {
	// SendAudio queues one chunk of raw 16-bit little-endian signed PCM.
	// Returns an error after Close.
	SendAudio(chunk []byte) error

	// Finals returns the channel of finalized transcripts. Closed when the
	// session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio, closes Finals and releases resources.
	// Safe to call more than once.
	Close() error
}

// Provider opens transcription sessions.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

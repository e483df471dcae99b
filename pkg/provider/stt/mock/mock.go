// Package mock provides a test double for the stt.Provider interface.
//
// Each StartStream returns a session whose Finals channel emits the
// configured transcripts after the configured number of SendAudio calls,
// letting tests drive the speech-in pipeline without a recognizer.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/buddy-assistant/buddy/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are emitted in order, one per SendAudio call, until
	// exhausted.
	Transcripts []string

	// StartErr, if non-nil, is returned from StartStream.
	StartErr error

	// Sessions records every opened session.
	Sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream opens a scripted session.
func (p *Provider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := &Session{
		pending: append([]string(nil), p.Transcripts...),
		finals:  make(chan stt.Transcript, len(p.Transcripts)+1),
		done:    make(chan struct{}),
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Session is a scripted stt.SessionHandle.
type Session struct {
	mu      sync.Mutex
	pending []string
	finals  chan stt.Transcript
	done    chan struct{}
	once    sync.Once

	// AudioChunks counts SendAudio calls.
	AudioChunks int
}

var _ stt.SessionHandle = (*Session)(nil)

// SendAudio emits the next scripted transcript, if any.
func (s *Session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("mock stt: session is closed")
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioChunks++
	if len(s.pending) > 0 {
		text := s.pending[0]
		s.pending = s.pending[1:]
		s.finals <- stt.Transcript{Text: text}
	}
	return nil
}

// Finals returns the scripted transcript channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Close closes the session and the Finals channel. Safe to call repeatedly.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
		close(s.finals)
	})
	return nil
}

// Package wakeword implements the wake-word input adapter: continuous audio
// capture through miniaudio, streaming recognition, and phonetic matching of
// the configured wake phrase. On a positive match the adapter releases the
// audio device and publishes a Wakeword event so the speech-in adapter can
// take over the microphone.
package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/audiodev"
	"github.com/buddy-assistant/buddy/pkg/audio"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/provider/stt"
)

const (
	defaultPhrase    = "hey buddy"
	defaultThreshold = 0.82
	sampleRate       = 16000
	frameQueueCap    = 32
	joinTimeout      = 3 * time.Second
)

// Listener is the wake-word input adapter.
type Listener struct {
	log   *slog.Logger
	pub   adapter.Publisher
	audio *audiodev.Coordinator
	stt   stt.Provider

	phrase    string
	threshold float64

	mu     sync.Mutex
	paused bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ adapter.InputAdapter = (*Listener)(nil)

// New builds a Listener from its adapter options. Recognised options:
// "phrase" (wake phrase, default "hey buddy") and "threshold" (Jaro-Winkler
// acceptance score, default 0.82).
func New(cfg map[string]any, env adapter.Env) (adapter.InputAdapter, error) {
	if env.STT == nil {
		return nil, fmt.Errorf("wakeword: an stt provider is required")
	}
	if env.Pub == nil || env.Audio == nil {
		return nil, fmt.Errorf("wakeword: publisher and audio coordinator are required")
	}
	return &Listener{
		log:       env.Log.With("adapter", "wakeword"),
		pub:       env.Pub,
		audio:     env.Audio,
		stt:       env.STT,
		phrase:    strings.ToLower(adapter.OptString(cfg, "phrase", defaultPhrase)),
		threshold: adapter.OptFloat(cfg, "threshold", defaultThreshold),
		done:      make(chan struct{}),
	}, nil
}

// Name implements [adapter.InputAdapter].
func (l *Listener) Name() string { return "wakeword" }

// Start opens the capture device and the recognition stream, then listens
// until Stop.
func (l *Listener) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)

	if err := l.audio.RequestInput(); err != nil {
		// Speaking at startup is unusual but not fatal: begin paused and
		// acquire on the next listen-start command.
		l.log.Warn("audio device busy at startup, beginning paused", "error", err)
		l.setPaused(true)
	}

	session, err := l.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: sampleRate,
		Channels:   1,
	})
	if err != nil {
		l.cancel()
		return fmt.Errorf("wakeword: start stt stream: %w", err)
	}

	frames := make(chan []byte, frameQueueCap)
	device, err := audio.OpenCapture(sampleRate, 1, frames)
	if err != nil {
		session.Close()
		l.cancel()
		return fmt.Errorf("wakeword: open capture: %w", err)
	}

	go l.run(ctx, device, session, frames)
	return nil
}

// Stop tears down capture and joins the listen loop.
func (l *Listener) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	select {
	case <-l.done:
	case <-time.After(joinTimeout):
		l.log.Warn("listen loop did not stop in time", "timeout", joinTimeout)
	}
	return nil
}

// HandleCommand implements the listen start/stop pair. Both are idempotent:
// stopping an already-paused listener leaves it paused.
func (l *Listener) HandleCommand(cmd adapter.Command) bool {
	switch cmd {
	case adapter.CmdWakewordListenStop:
		l.setPaused(true)
		return true
	case adapter.CmdWakewordListenStart:
		if err := l.audio.RequestInput(); err != nil {
			l.log.Warn("cannot reacquire audio device, staying paused", "error", err)
			return true
		}
		l.setPaused(false)
		return true
	default:
		return false
	}
}

func (l *Listener) setPaused(p bool) {
	l.mu.Lock()
	l.paused = p
	l.mu.Unlock()
}

func (l *Listener) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// run forwards captured frames to the recogniser and watches its finals for
// the wake phrase.
func (l *Listener) run(ctx context.Context, device *audio.Capture, session stt.SessionHandle, frames <-chan []byte) {
	defer close(l.done)
	defer device.Close()
	defer session.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-frames:
			if l.isPaused() {
				continue
			}
			if err := session.SendAudio(frame); err != nil {
				l.log.Warn("stt send failed", "error", err)
			}

		case t, ok := <-session.Finals():
			if !ok {
				l.log.Warn("stt stream closed, wakeword detection stopped")
				return
			}
			if l.isPaused() || t.Text == "" {
				continue
			}
			if !MatchPhrase(t.Text, l.phrase, l.threshold) {
				l.log.Debug("no wake phrase", "heard", t.Text)
				continue
			}
			l.log.Info("wake phrase detected", "heard", t.Text)
			// Hand the device over before the core reacts to the event.
			l.setPaused(true)
			l.audio.Release(audiodev.ModeListening)
			if !l.pub.Publish(event.NewInput(event.InputWakeword, t.Text,
				event.WithPriority(event.PriorityHigh),
				event.WithSource("wakeword"))) {
				l.log.Warn("input queue full, wakeword dropped")
			}
		}
	}
}

// MatchPhrase reports whether heard contains the wake phrase. Full-string
// Jaro-Winkler similarity is tried first; a sliding window of the same word
// count then catches phrases embedded in longer utterances, accepting on
// score or on Double Metaphone equality of every word pair.
func MatchPhrase(heard, phrase string, threshold float64) bool {
	heard = normalise(heard)
	phrase = normalise(phrase)
	if heard == "" || phrase == "" {
		return false
	}

	if matchr.JaroWinkler(heard, phrase, true) >= threshold {
		return true
	}

	phraseWords := strings.Fields(phrase)
	heardWords := strings.Fields(heard)
	if len(heardWords) < len(phraseWords) {
		return false
	}
	for i := 0; i+len(phraseWords) <= len(heardWords); i++ {
		window := strings.Join(heardWords[i:i+len(phraseWords)], " ")
		if matchr.JaroWinkler(window, phrase, true) >= threshold {
			return true
		}
		if phoneticEqual(heardWords[i:i+len(phraseWords)], phraseWords) {
			return true
		}
	}
	return false
}

// phoneticEqual reports whether every positional word pair shares a Double
// Metaphone code.
func phoneticEqual(a, b []string) bool {
	for i := range a {
		p1, s1 := matchr.DoubleMetaphone(a[i])
		p2, s2 := matchr.DoubleMetaphone(b[i])
		if p1 == "" && p2 == "" {
			continue
		}
		if p1 != p2 && p1 != s2 && s1 != p2 && (s1 == "" || s2 == "" || s1 != s2) {
			return false
		}
	}
	return true
}

func normalise(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':':
			return -1
		}
		return r
	}, s)
}

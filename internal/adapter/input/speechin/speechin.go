// Package speechin implements the conversational speech-input adapter. It is
// dormant until a VOICE_INPUT_START command, then runs one recognition
// session: microphone frames stream to the recogniser, each final transcript
// becomes a UserSpeech event, and an inactivity timeout closes the session
// with a ConversationEnd event.
package speechin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/audiodev"
	"github.com/buddy-assistant/buddy/pkg/audio"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/provider/stt"
)

const (
	defaultInactivity = 15 * time.Second
	sampleRate        = 16000
	frameQueueCap     = 32
	// activityPoll is how often the session checks whether playback is in
	// progress, which also counts as activity: the user cannot answer while
	// Buddy is still talking.
	activityPoll = time.Second
	joinTimeout  = 3 * time.Second
)

// Recognizer is the speech-in input adapter.
type Recognizer struct {
	log   *slog.Logger
	pub   adapter.Publisher
	audio *audiodev.Coordinator
	stt   stt.Provider

	inactivity time.Duration
	language   string

	mu            sync.Mutex
	sessionCancel context.CancelFunc
	sessionDone   chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc

	// capture is swapped in tests to avoid touching real hardware.
	capture func(rate, channels int, frames chan<- []byte) (closer, error)
}

type closer interface{ Close() }

var _ adapter.InputAdapter = (*Recognizer)(nil)

// New builds a Recognizer from its adapter options. Recognised options:
// "inactivity_seconds" (session timeout, default 15) and "language".
func New(cfg map[string]any, env adapter.Env) (adapter.InputAdapter, error) {
	if env.STT == nil {
		return nil, fmt.Errorf("speechin: an stt provider is required")
	}
	if env.Pub == nil || env.Audio == nil {
		return nil, fmt.Errorf("speechin: publisher and audio coordinator are required")
	}
	inactivity := time.Duration(adapter.OptFloat(cfg, "inactivity_seconds", defaultInactivity.Seconds()) * float64(time.Second))
	return &Recognizer{
		log:        env.Log.With("adapter", "speechin"),
		pub:        env.Pub,
		audio:      env.Audio,
		stt:        env.STT,
		inactivity: inactivity,
		language:   adapter.OptString(cfg, "language", "it"),
		capture: func(rate, channels int, frames chan<- []byte) (closer, error) {
			return audio.OpenCapture(rate, channels, frames)
		},
	}, nil
}

// Name implements [adapter.InputAdapter].
func (r *Recognizer) Name() string { return "speechin" }

// Start records the lifecycle context. The adapter stays dormant until a
// VOICE_INPUT_START command arrives.
func (r *Recognizer) Start(ctx context.Context) error {
	r.baseCtx, r.cancel = context.WithCancel(ctx)
	return nil
}

// Stop ends any running session and joins it.
func (r *Recognizer) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.endSession(false)
	return nil
}

// HandleCommand starts and stops recognition sessions.
func (r *Recognizer) HandleCommand(cmd adapter.Command) bool {
	switch cmd {
	case adapter.CmdVoiceInputStart:
		r.startSession()
		return true
	case adapter.CmdVoiceInputStop:
		r.endSession(false)
		return true
	default:
		return false
	}
}

// startSession launches one recognition session. A second start while a
// session is running is a no-op; sessions are serial by construction.
func (r *Recognizer) startSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionCancel != nil {
		r.log.Debug("session already running, ignoring start")
		return
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	done := make(chan struct{})
	r.sessionCancel = cancel
	r.sessionDone = done
	go r.runSession(ctx, done)
}

// endSession cancels the running session, if any, and waits for it to
// finish. When timedOut the session loop itself is ending and only the
// bookkeeping is cleared.
func (r *Recognizer) endSession(timedOut bool) {
	r.mu.Lock()
	cancel, done := r.sessionCancel, r.sessionDone
	r.sessionCancel, r.sessionDone = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if timedOut {
		return
	}
	select {
	case <-done:
	case <-time.After(joinTimeout):
		r.log.Warn("session did not stop in time", "timeout", joinTimeout)
	}
}

func (r *Recognizer) runSession(ctx context.Context, done chan struct{}) {
	defer close(done)

	if err := r.acquireDevice(ctx); err != nil {
		r.log.Error("cannot acquire audio device", "error", err)
		r.finish(true)
		return
	}
	defer r.audio.Release(audiodev.ModeListening)

	session, err := r.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: sampleRate,
		Channels:   1,
		Language:   r.language,
	})
	if err != nil {
		r.log.Error("cannot start stt stream", "error", err)
		r.finish(true)
		return
	}
	defer session.Close()

	frames := make(chan []byte, frameQueueCap)
	device, err := r.capture(sampleRate, 1, frames)
	if err != nil {
		r.log.Error("cannot open capture device", "error", err)
		r.finish(true)
		return
	}
	defer device.Close()

	r.log.Info("voice session started", "inactivity", r.inactivity)

	idle := time.NewTimer(r.inactivity)
	defer idle.Stop()
	poll := time.NewTicker(activityPoll)
	defer poll.Stop()

	resetIdle := func() {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(r.inactivity)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-frames:
			// Playback frames are the speaker talking to itself.
			if r.audio.Mode() == audiodev.ModeSpeaking {
				continue
			}
			if err := session.SendAudio(frame); err != nil {
				r.log.Warn("stt send failed", "error", err)
			}

		case <-poll.C:
			if r.audio.Mode() == audiodev.ModeSpeaking {
				resetIdle()
			}

		case t, ok := <-session.Finals():
			if !ok {
				r.log.Warn("stt stream closed mid-session")
				r.finish(true)
				return
			}
			if t.Text == "" {
				continue
			}
			resetIdle()
			r.log.Info("utterance recognised", "text", t.Text)
			if !r.pub.Publish(event.NewInput(event.InputUserSpeech, t.Text,
				event.WithSource(event.SourceVoice))) {
				r.log.Warn("input queue full, utterance dropped")
			}

		case <-idle.C:
			r.log.Info("voice session idle timeout")
			r.finish(true)
			return
		}
	}
}

// acquireDevice obtains input ownership, waiting out any in-flight playback.
func (r *Recognizer) acquireDevice(ctx context.Context) error {
	for {
		err := r.audio.RequestInput()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.audio.WaitUntilIdle(5 * time.Second) {
			return err
		}
	}
}

// finish emits the session-end event and clears the session bookkeeping.
func (r *Recognizer) finish(emitEnd bool) {
	if emitEnd {
		if !r.pub.Publish(event.NewInput(event.InputConversationEnd, nil,
			event.WithSource("speechin"))) {
			r.log.Warn("input queue full, conversation end dropped")
		}
	}
	r.endSession(true)
}

// Package speech implements the text-to-speech output adapter. Each speak
// event is synthesized to a WAV stream and played through a terminable
// subprocess; a VOICE_OUTPUT_STOP command kills the playback mid-utterance.
//
// The worker holds the audio device and the speaking flag for the whole
// playback so the input pipeline neither transcribes Buddy's own voice nor
// times a session out while Buddy is still talking.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/audiodev"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/provider/tts"
)

const (
	defaultPlayer = "aplay"
	queueSize     = 16
)

// player is one running playback, terminable from another goroutine.
type player interface {
	Wait() error
	Kill() error
}

// Speaker is the TTS output adapter.
type Speaker struct {
	*adapter.Worker
	log   *slog.Logger
	tts   tts.Provider
	audio *audiodev.Coordinator
	state *state.Global

	playerCmd string

	mu      sync.Mutex
	current player

	// play is swapped in tests to avoid spawning a real playback process.
	play func(ctx context.Context, wav []byte) (player, error)
}

var _ adapter.OutputAdapter = (*Speaker)(nil)

// New builds a Speaker from its adapter options. The only recognised option
// is "player", the playback executable (default aplay), fed WAV on stdin.
func New(cfg map[string]any, env adapter.Env) (adapter.OutputAdapter, error) {
	if env.TTS == nil {
		return nil, fmt.Errorf("speech: a tts provider is required")
	}
	if env.Audio == nil || env.State == nil {
		return nil, fmt.Errorf("speech: audio coordinator and shared state are required")
	}
	s := &Speaker{
		log:       env.Log.With("adapter", "speech"),
		tts:       env.TTS,
		audio:     env.Audio,
		state:     env.State,
		playerCmd: adapter.OptString(cfg, "player", defaultPlayer),
	}
	s.play = s.spawn
	s.Worker = adapter.NewWorker("speech", queueSize, env.Log, s.speak)
	return s, nil
}

// Name implements [adapter.OutputAdapter].
func (s *Speaker) Name() string { return "speech" }

// Kinds implements [adapter.OutputAdapter].
func (s *Speaker) Kinds() []event.OutputKind {
	return []event.OutputKind{event.OutputSpeak}
}

// Stop kills any running playback, then drains the worker.
func (s *Speaker) Stop() error {
	s.killCurrent()
	return s.Worker.Stop()
}

// HandleCommand terminates the current playback on VOICE_OUTPUT_STOP. The
// stop is one-shot: the next speak event plays normally, so a barge-in reply
// is not swallowed.
func (s *Speaker) HandleCommand(cmd adapter.Command) bool {
	switch cmd {
	case adapter.CmdVoiceOutputStop:
		s.killCurrent()
		return true
	case adapter.CmdVoiceOutputResume:
		return true
	default:
		return false
	}
}

// speak synthesizes and plays one utterance to completion.
func (s *Speaker) speak(ctx context.Context, ev event.Event) error {
	text := ev.Text()
	if text == "" {
		return fmt.Errorf("speak content is %T, want non-empty string", ev.Content)
	}

	wav, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	s.audio.RequestOutput()
	s.state.SetSpeaking(true)
	defer func() {
		s.state.SetSpeaking(false)
		s.audio.Release(audiodev.ModeSpeaking)
	}()

	p, err := s.play(ctx, wav)
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	s.setCurrent(p)
	defer s.setCurrent(nil)

	s.log.Info("speaking", "chars", len(text), "priority", ev.Priority)
	if err := p.Wait(); err != nil && ctx.Err() == nil {
		// A killed playback surfaces as an exit error; that is the commanded
		// stop, not a failure.
		s.log.Debug("playback ended early", "error", err)
	}
	return nil
}

func (s *Speaker) setCurrent(p player) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

func (s *Speaker) killCurrent() {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return
	}
	s.log.Info("stopping playback")
	if err := p.Kill(); err != nil {
		s.log.Warn("playback kill failed", "error", err)
	}
}

// cmdPlayer adapts exec.Cmd to the player seam.
type cmdPlayer struct{ cmd *exec.Cmd }

func (p cmdPlayer) Wait() error { return p.cmd.Wait() }
func (p cmdPlayer) Kill() error { return p.cmd.Process.Kill() }

func (s *Speaker) spawn(ctx context.Context, wav []byte) (player, error) {
	cmd := exec.CommandContext(ctx, s.playerCmd, "-q")
	cmd.Stdin = bytes.NewReader(wav)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmdPlayer{cmd: cmd}, nil
}

// Package adapter defines the contracts between the orchestration core and
// the processes at its edges: input adapters that produce events, output
// adapters that consume them, and the advisory command channel broadcast to
// both.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/buddy-assistant/buddy/pkg/event"
)

// Command is an advisory instruction broadcast to every adapter. Each adapter
// decides whether a command applies to it; delivery is best-effort and
// at-most-once.
type Command string

const (
	CmdWakewordListenStart Command = "WAKEWORD_LISTEN_START"
	CmdWakewordListenStop  Command = "WAKEWORD_LISTEN_STOP"
	CmdVoiceInputStart     Command = "VOICE_INPUT_START"
	CmdVoiceInputStop      Command = "VOICE_INPUT_STOP"
	CmdVoiceOutputStop     Command = "VOICE_OUTPUT_STOP"
	CmdVoiceOutputResume   Command = "VOICE_OUTPUT_RESUME"
	CmdSensorPause         Command = "SENSOR_PAUSE"
	CmdSensorResume        Command = "SENSOR_RESUME"
	CmdLedListening        Command = "LED_LISTENING"
	CmdLedThinking         Command = "LED_THINKING"
	CmdLedSpeaking         Command = "LED_SPEAKING"
	CmdLedIdle             Command = "LED_IDLE"
)

var validCommands = map[Command]struct{}{
	CmdWakewordListenStart: {},
	CmdWakewordListenStop:  {},
	CmdVoiceInputStart:     {},
	CmdVoiceInputStop:      {},
	CmdVoiceOutputStop:     {},
	CmdVoiceOutputResume:   {},
	CmdSensorPause:         {},
	CmdSensorResume:        {},
	CmdLedListening:        {},
	CmdLedThinking:         {},
	CmdLedSpeaking:         {},
	CmdLedIdle:             {},
}

// ErrUnknownCommand is returned by ParseCommand for names outside the closed
// command set.
var ErrUnknownCommand = errors.New("adapter: unknown command")

// ParseCommand validates a wire-format command name.
func ParseCommand(s string) (Command, error) {
	c := Command(s)
	if _, ok := validCommands[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

// Publisher is the core's fan-in surface handed to input adapters. Publish
// offers an event to the shared input queue; Interrupt offers to the
// dedicated barge-in queue. Both are non-blocking and report acceptance.
type Publisher interface {
	Publish(ev event.Event) bool
	Interrupt(ev event.Event) bool
}

// InputAdapter produces events. Start launches the adapter's own workers and
// returns once they are running; it must not block for the adapter's
// lifetime. Stop joins those workers within a bounded wait.
type InputAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// HandleCommand applies an advisory command and reports whether the
	// adapter acted on it.
	HandleCommand(cmd Command) bool
}

// OutputAdapter consumes routed events. Kinds lists the output kinds the
// adapter subscribes to; Offer enqueues one routed event without blocking.
type OutputAdapter interface {
	Name() string
	Kinds() []event.OutputKind
	Start(ctx context.Context) error
	Stop() error
	Offer(ev event.Event) bool
	HandleCommand(cmd Command) bool
}

// Package brain is the decision layer: one handler per input kind, mapping
// each event (plus the wall clock and the shared state record) to a list of
// output events and adapter commands. The orchestrator guarantees
// single-threaded invocation.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/event"
)

// ErrValidation marks a malformed event payload or an unknown enumerated
// value. The orchestrator logs these and drops the event.
var ErrValidation = errors.New("brain: validation")

// apology is spoken when the model cannot be reached.
const apology = "Scusa, ho avuto un problema a rispondere."

// farewell is spoken on a voice-initiated shutdown.
const farewell = "A dopo!"

// alexaWake is the first of the two-step emit used to voice commands at a
// nearby Alexa device. The trailing semicolon forces a pause in synthesis.
const alexaWake = "Alexa;"

const (
	alexaLightsOn  = "accendi tutte le luci"
	alexaLightsOff = "spegni tutte le luci"
)

// Config carries the decision-layer tunables.
type Config struct {
	// SystemInstruction is the persona prompt for the chat session.
	SystemInstruction string

	// Temperature is forwarded to the model on every completion.
	Temperature float64

	// ArchivistInterval is how often a DistillMemory output is emitted.
	ArchivistInterval time.Duration

	// LightOffTimeout is how long after presence loss the lights are turned
	// off.
	LightOffTimeout time.Duration
}

// Result is what one processed event produced.
type Result struct {
	Outputs  []event.Event
	Commands []adapter.Command
}

type handlerFunc func(ctx context.Context, ev event.Event) (Result, error)

// Brain dispatches input events through a per-kind handler table and runs
// the two timer-driven side effects: the archivist trigger and the delayed
// light-off after presence loss.
type Brain struct {
	log     *slog.Logger
	metrics *observe.Metrics
	state   *state.Global
	session *Session
	cfg     Config

	handlers map[event.InputKind]handlerFunc

	lastArchivist time.Time
	presenceLost  *time.Time

	// now is swapped in tests to drive the timers.
	now func() time.Time
}

// New builds a Brain over the given chat session and shared state.
func New(cfg Config, session *Session, st *state.Global, log *slog.Logger, metrics *observe.Metrics) *Brain {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	b := &Brain{
		log:     log.With("component", "brain"),
		metrics: metrics,
		state:   st,
		session: session,
		cfg:     cfg,
		now:     time.Now,
	}
	b.lastArchivist = b.now()
	b.handlers = map[event.InputKind]handlerFunc{
		event.InputDirectOutput:      b.handleDirectOutput,
		event.InputAdapterCommand:    b.handleAdapterCommand,
		event.InputWakeword:          b.handleWakeword,
		event.InputConversationEnd:   b.handleConversationEnd,
		event.InputUserSpeech:        b.handleUserSpeech,
		event.InputSensorPresence:    b.handleSensorPresence,
		event.InputSensorMovement:    b.handleSensorMovement,
		event.InputSensorTemperature: b.handleSensorTemperature,
		event.InputTriggerArchivist:  b.handleTriggerArchivist,
		event.InputChatSessionReset:  b.handleChatSessionReset,
		event.InputLightOn:           b.handleLightOn,
		event.InputLightOff:          b.handleLightOff,
		event.InputShutdown:          b.handleShutdown,
		event.InputRestart:           b.handleRestart,
	}
	return b
}

// Process runs the handler for ev and appends the timer checks. A
// validation error is returned to the caller; the timer checks still run and
// their outputs are included in the result.
func (b *Brain) Process(ctx context.Context, ev event.Event) (Result, error) {
	start := b.now()
	var (
		res Result
		err error
	)

	if h, ok := b.handlers[ev.Input]; ok {
		res, err = h(ctx, ev)
	} else {
		b.log.Warn("no handler for input kind", "kind", ev.Kind())
	}

	res.Outputs = append(res.Outputs, b.timerChecks()...)

	b.metrics.BrainDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("kind", ev.Kind())))
	return res, err
}

// Tick runs only the timer checks. The orchestrator calls it on every
// dequeue timeout so the timers fire even when no events arrive.
func (b *Brain) Tick(context.Context) []event.Event {
	return b.timerChecks()
}

// SessionID exposes the current chat session identifier.
func (b *Brain) SessionID() string { return b.session.ID() }

// ─── timers ──────────────────────────────────────────────────────────────────

func (b *Brain) timerChecks() []event.Event {
	var out []event.Event
	now := b.now()

	if b.cfg.ArchivistInterval > 0 && now.Sub(b.lastArchivist) >= b.cfg.ArchivistInterval {
		elapsed := now.Sub(b.lastArchivist).Seconds()
		b.lastArchivist = now
		b.log.Info("archivist interval elapsed, requesting distillation", "elapsed_seconds", elapsed)
		out = append(out, event.NewOutput(event.OutputDistillMemory, nil,
			event.WithPriority(event.PriorityLow),
			event.WithSource("brain"),
			event.WithMeta(event.MetaElapsedSeconds, elapsed)))
	}

	if b.presenceLost != nil && b.cfg.LightOffTimeout > 0 &&
		now.Sub(*b.presenceLost) >= b.cfg.LightOffTimeout {
		b.presenceLost = nil
		b.state.SetLightOn(false)
		b.log.Info("presence lost past timeout, turning lights off")
		out = append(out, b.alexaCommand(alexaLightsOff, "light_off_timer")...)
	}

	return out
}

// alexaCommand builds the two-step speak sequence: the wake word first, then
// the command, both HIGH so they drain back to back on the speech worker.
func (b *Brain) alexaCommand(text, triggeredBy string) []event.Event {
	opts := []event.Option{
		event.WithPriority(event.PriorityHigh),
		event.WithSource("brain"),
		event.WithMeta(event.MetaTriggeredBy, triggeredBy),
	}
	return []event.Event{
		event.NewOutput(event.OutputSpeak, alexaWake, opts...),
		event.NewOutput(event.OutputSpeak, text, opts...),
	}
}

// ─── handlers ────────────────────────────────────────────────────────────────

// handleDirectOutput unwraps the embedded output event and forwards it
// untouched.
func (b *Brain) handleDirectOutput(_ context.Context, ev event.Event) (Result, error) {
	inner, ok := ev.Content.(event.Event)
	if !ok || !inner.IsOutput() {
		return Result{}, fmt.Errorf("%w: direct_output content is %T, want output event", ErrValidation, ev.Content)
	}
	return Result{Outputs: []event.Event{inner}}, nil
}

// handleAdapterCommand parses the command name and returns it for broadcast.
func (b *Brain) handleAdapterCommand(_ context.Context, ev event.Event) (Result, error) {
	name, ok := ev.Content.(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: adapter_command content is %T, want string", ErrValidation, ev.Content)
	}
	cmd, err := adapter.ParseCommand(name)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return Result{Commands: []adapter.Command{cmd}}, nil
}

func (b *Brain) handleWakeword(_ context.Context, _ event.Event) (Result, error) {
	b.state.MarkConversationStart(b.now())
	led := event.NewOutput(event.OutputLedControl, nil,
		event.WithSource("brain"),
		event.WithMetadata(map[string]any{
			event.MetaLed:        event.LedListening,
			event.MetaLedCommand: event.LedCommandBlink,
			event.MetaContinuous: true,
			event.MetaOnTime:     0.5,
			event.MetaOffTime:    0.5,
		}))
	return Result{
		Outputs:  []event.Event{led},
		Commands: []adapter.Command{adapter.CmdWakewordListenStop, adapter.CmdVoiceInputStart},
	}, nil
}

func (b *Brain) handleConversationEnd(_ context.Context, _ event.Event) (Result, error) {
	b.state.MarkConversationEnd(b.now())
	led := event.NewOutput(event.OutputLedControl, nil,
		event.WithSource("brain"),
		event.WithMetadata(map[string]any{
			event.MetaLed:        event.LedListening,
			event.MetaLedCommand: event.LedCommandOff,
		}))
	return Result{
		Outputs:  []event.Event{led},
		Commands: []adapter.Command{adapter.CmdWakewordListenStart},
	}, nil
}

// handleUserSpeech is the conversational round trip: persist the user turn,
// ask the model, persist the reply, and voice it when the turn came in by
// voice. A model failure yields the apology instead of an error so the user
// always hears something.
func (b *Brain) handleUserSpeech(ctx context.Context, ev event.Event) (Result, error) {
	text, ok := ev.Content.(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: user_speech content is %T, want string", ErrValidation, ev.Content)
	}

	var out []event.Event
	out = append(out, event.NewOutput(event.OutputSaveHistory,
		event.HistoryEntry{Role: "user", Text: text},
		event.WithSource("brain")))

	reply, err := b.session.Send(ctx, text)
	if err != nil {
		b.log.Error("model reply failed", "error", err)
		reply = apology
	}

	out = append(out, event.NewOutput(event.OutputSaveHistory,
		event.HistoryEntry{Role: "model", Text: reply},
		event.WithSource("brain")))

	if ev.Source == event.SourceVoice {
		out = append(out, event.NewOutput(event.OutputSpeak, reply,
			event.WithPriority(event.PriorityHigh),
			event.WithSource("brain")))
	}
	return Result{Outputs: out}, nil
}

// handleSensorPresence implements the light automation around arrivals and
// departures.
func (b *Brain) handleSensorPresence(_ context.Context, ev event.Event) (Result, error) {
	present, ok := ev.Content.(bool)
	if !ok {
		return Result{}, fmt.Errorf("%w: sensor_presence content is %T, want bool", ErrValidation, ev.Content)
	}
	now := b.now()

	if !present {
		b.state.MarkAbsence(now)
		if b.presenceLost == nil {
			b.presenceLost = &now
			b.log.Info("presence lost, light-off timer armed", "timeout", b.cfg.LightOffTimeout)
		}
		return Result{}, nil
	}

	b.state.MarkPresence(now)
	if b.presenceLost != nil {
		// Back before the timeout fired: keep the lights as they are.
		b.presenceLost = nil
		b.log.Info("presence regained, light-off timer cancelled")
		return Result{}, nil
	}

	if state.IsNightHour(now.Hour()) && !b.state.LightOn() {
		b.state.SetLightOn(true)
		b.log.Info("presence at night, turning lights on")
		return Result{Outputs: b.alexaCommand(alexaLightsOn, "presence")}, nil
	}

	b.log.Debug("presence detected", "hour", now.Hour())
	return Result{}, nil
}

func (b *Brain) handleSensorMovement(_ context.Context, ev event.Event) (Result, error) {
	if _, ok := ev.Content.(bool); !ok {
		return Result{}, fmt.Errorf("%w: sensor_movement content is %T, want bool", ErrValidation, ev.Content)
	}
	b.log.Debug("movement", "moving", ev.Content)
	return Result{}, nil
}

// handleSensorTemperature records the climate readings on the shared state.
func (b *Brain) handleSensorTemperature(_ context.Context, ev event.Event) (Result, error) {
	temp, ok := asFloat(ev.Content)
	if !ok {
		return Result{}, fmt.Errorf("%w: sensor_temperature content is %T, want number", ErrValidation, ev.Content)
	}
	hum := ev.MetaFloat(event.MetaHumidity)
	b.state.SetClimate(temp, hum)
	b.log.Debug("climate", "temperature", temp, "humidity", hum)
	return Result{}, nil
}

func (b *Brain) handleTriggerArchivist(_ context.Context, _ event.Event) (Result, error) {
	now := b.now()
	elapsed := now.Sub(b.lastArchivist).Seconds()
	b.lastArchivist = now
	return Result{Outputs: []event.Event{
		event.NewOutput(event.OutputDistillMemory, nil,
			event.WithPriority(event.PriorityLow),
			event.WithSource("brain"),
			event.WithMeta(event.MetaElapsedSeconds, elapsed)),
	}}, nil
}

func (b *Brain) handleChatSessionReset(_ context.Context, _ event.Event) (Result, error) {
	id := b.session.Reset()
	b.log.Info("chat session reset", "session_id", id)
	return Result{}, nil
}

func (b *Brain) handleLightOn(_ context.Context, ev event.Event) (Result, error) {
	target, err := lightTarget(ev)
	if err != nil {
		return Result{}, err
	}
	b.state.SetLightOn(true)
	return Result{Outputs: []event.Event{
		event.NewOutput(event.OutputLightOn, target, event.WithSource("brain")),
	}}, nil
}

func (b *Brain) handleLightOff(_ context.Context, ev event.Event) (Result, error) {
	target, err := lightTarget(ev)
	if err != nil {
		return Result{}, err
	}
	b.state.SetLightOn(false)
	return Result{Outputs: []event.Event{
		event.NewOutput(event.OutputLightOff, target, event.WithSource("brain")),
	}}, nil
}

// handleShutdown voices a farewell when the request came in by voice; the
// orchestrator terminates the loop after routing the outputs.
func (b *Brain) handleShutdown(_ context.Context, ev event.Event) (Result, error) {
	if ev.Source == event.SourceVoice {
		return Result{Outputs: []event.Event{
			event.NewOutput(event.OutputSpeak, farewell,
				event.WithPriority(event.PriorityCritical),
				event.WithSource("brain")),
		}}, nil
	}
	return Result{}, nil
}

func (b *Brain) handleRestart(_ context.Context, _ event.Event) (Result, error) {
	b.log.Info("restart requested")
	return Result{}, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// lightTarget validates the light event payload against the known targets.
func lightTarget(ev event.Event) (string, error) {
	target, ok := ev.Content.(string)
	if !ok {
		return "", fmt.Errorf("%w: light event content is %T, want string", ErrValidation, ev.Content)
	}
	switch target {
	case event.LightTargetRoom, event.LightTargetHall, event.LightTargetAll:
		return target, nil
	default:
		return "", fmt.Errorf("%w: unknown light target %q", ErrValidation, target)
	}
}

// asFloat widens the numeric types JSON and native producers hand us.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

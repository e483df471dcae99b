package brain

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
	llmmock "github.com/buddy-assistant/buddy/pkg/provider/llm/mock"
)

// eveningClock is a fixed instant inside the night window.
var eveningClock = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

// dayClock is a fixed instant outside the night window.
var dayClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBrain(t *testing.T, cfg Config, provider llm.Provider) (*Brain, *state.Global) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if cfg.ArchivistInterval == 0 {
		cfg.ArchivistInterval = time.Hour
	}
	if cfg.LightOffTimeout == 0 {
		cfg.LightOffTimeout = 10 * time.Minute
	}
	st := &state.Global{}
	session := NewSession(provider, cfg.SystemInstruction, cfg.Temperature, metrics)
	return New(cfg, session, st, slog.New(slog.DiscardHandler), metrics), st
}

// setClock pins the brain's clock to a fixed instant.
func setClock(b *Brain, at time.Time) {
	b.now = func() time.Time { return at }
	b.lastArchivist = at
}

// ─── TestProcess_VoiceRoundTrip ──────────────────────────────────────────────

// TestProcess_VoiceRoundTrip drives a wakeword followed by spoken input
// through the handler table and checks the exact output order.
func TestProcess_VoiceRoundTrip(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Ciao!"},
	}
	b, _ := newTestBrain(t, Config{}, provider)
	setClock(b, dayClock)
	ctx := context.Background()

	// Wakeword.
	res, err := b.Process(ctx, event.NewInput(event.InputWakeword, nil))
	if err != nil {
		t.Fatalf("Process(wakeword): %v", err)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].Output != event.OutputLedControl {
		t.Fatalf("wakeword outputs: %+v", res.Outputs)
	}
	led := res.Outputs[0]
	if led.MetaString(event.MetaLed) != event.LedListening ||
		led.MetaString(event.MetaLedCommand) != event.LedCommandBlink ||
		!led.MetaBool(event.MetaContinuous) ||
		led.MetaFloat(event.MetaOnTime) != 0.5 {
		t.Errorf("led metadata wrong: %+v", led.Metadata)
	}
	wantCmds := []adapter.Command{adapter.CmdWakewordListenStop, adapter.CmdVoiceInputStart}
	if len(res.Commands) != 2 || res.Commands[0] != wantCmds[0] || res.Commands[1] != wantCmds[1] {
		t.Errorf("wakeword commands: want %v, got %v", wantCmds, res.Commands)
	}

	// Spoken input.
	res, err = b.Process(ctx, event.NewInput(event.InputUserSpeech, "Ciao",
		event.WithSource(event.SourceVoice)))
	if err != nil {
		t.Fatalf("Process(user_speech): %v", err)
	}
	if len(res.Commands) != 0 {
		t.Errorf("user speech produced commands: %v", res.Commands)
	}
	if len(res.Outputs) != 3 {
		t.Fatalf("user speech outputs: want 3, got %d: %+v", len(res.Outputs), res.Outputs)
	}
	if h := res.Outputs[0].Content.(event.HistoryEntry); h.Role != "user" || h.Text != "Ciao" {
		t.Errorf("first output: %+v", res.Outputs[0])
	}
	if h := res.Outputs[1].Content.(event.HistoryEntry); h.Role != "model" || h.Text != "Ciao!" {
		t.Errorf("second output: %+v", res.Outputs[1])
	}
	speak := res.Outputs[2]
	if speak.Output != event.OutputSpeak || speak.Text() != "Ciao!" || speak.Priority != event.PriorityHigh {
		t.Errorf("third output: %+v", speak)
	}
	if calls := provider.Calls(); len(calls) != 1 {
		t.Errorf("LLM calls: want 1, got %d", len(calls))
	}
}

// ─── TestProcess_TextSpeechDoesNotSpeak ──────────────────────────────────────

func TestProcess_TextSpeechDoesNotSpeak(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	b, _ := newTestBrain(t, Config{}, provider)
	setClock(b, dayClock)

	res, err := b.Process(context.Background(),
		event.NewInput(event.InputUserSpeech, "ciao", event.WithSource("pipe")))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for _, out := range res.Outputs {
		if out.Output == event.OutputSpeak {
			t.Errorf("non-voice speech produced Speak: %+v", out)
		}
	}
}

// ─── TestProcess_LLMFailureApologises ────────────────────────────────────────

func TestProcess_LLMFailureApologises(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	b, _ := newTestBrain(t, Config{}, provider)
	setClock(b, dayClock)

	res, err := b.Process(context.Background(),
		event.NewInput(event.InputUserSpeech, "ciao", event.WithSource(event.SourceVoice)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	speak := res.Outputs[len(res.Outputs)-1]
	if speak.Output != event.OutputSpeak || speak.Text() != apology {
		t.Errorf("expected apology, got %+v", speak)
	}
}

// ─── TestProcess_ConversationEnd ─────────────────────────────────────────────

func TestProcess_ConversationEnd(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, dayClock)

	res, err := b.Process(context.Background(), event.NewInput(event.InputConversationEnd, nil))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].MetaString(event.MetaLedCommand) != event.LedCommandOff {
		t.Errorf("outputs: %+v", res.Outputs)
	}
	if len(res.Commands) != 1 || res.Commands[0] != adapter.CmdWakewordListenStart {
		t.Errorf("commands: %v", res.Commands)
	}
}

// ─── TestProcess_DirectOutputBypass ──────────────────────────────────────────

func TestProcess_DirectOutputBypass(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{}
	b, _ := newTestBrain(t, Config{}, provider)
	setClock(b, dayClock)

	inner := event.NewOutput(event.OutputSpeak, "hello", event.WithPriority(event.PriorityHigh))
	res, err := b.Process(context.Background(), event.NewInput(event.InputDirectOutput, inner))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("outputs: want 1, got %d", len(res.Outputs))
	}
	got := res.Outputs[0]
	if got.Output != event.OutputSpeak || got.Text() != "hello" || got.Priority != event.PriorityHigh {
		t.Errorf("forwarded event differs: %+v", got)
	}
	if len(provider.Calls()) != 0 {
		t.Error("direct output must not reach the model")
	}
}

// ─── TestProcess_ValidationErrors ────────────────────────────────────────────

func TestProcess_ValidationErrors(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, dayClock)
	ctx := context.Background()

	cases := []struct {
		name string
		ev   event.Event
	}{
		{"direct output with non-event content", event.NewInput(event.InputDirectOutput, "nope")},
		{"unknown adapter command", event.NewInput(event.InputAdapterCommand, "SELF_DESTRUCT")},
		{"adapter command wrong type", event.NewInput(event.InputAdapterCommand, 42)},
		{"presence wrong type", event.NewInput(event.InputSensorPresence, "yes")},
		{"temperature wrong type", event.NewInput(event.InputSensorTemperature, "warm")},
		{"unknown light target", event.NewInput(event.InputLightOn, "cantina")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := b.Process(ctx, tc.ev); !errors.Is(err, ErrValidation) {
				t.Errorf("Process(%s): err = %v, want ErrValidation", tc.ev.Kind(), err)
			}
		})
	}
}

// ─── TestProcess_AdapterCommandParses ────────────────────────────────────────

func TestProcess_AdapterCommandParses(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, dayClock)

	res, err := b.Process(context.Background(),
		event.NewInput(event.InputAdapterCommand, "SENSOR_PAUSE"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Commands) != 1 || res.Commands[0] != adapter.CmdSensorPause {
		t.Errorf("commands: %v", res.Commands)
	}
}

// ─── TestPresence_NightArrivalTurnsLightsOn ──────────────────────────────────

// TestPresence_NightArrivalTurnsLightsOn checks the Alexa two-step: wake
// word first, then the command, both HIGH with a triggered_by tag.
func TestPresence_NightArrivalTurnsLightsOn(t *testing.T) {
	t.Parallel()

	b, st := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, eveningClock)

	res, err := b.Process(context.Background(), event.NewInput(event.InputSensorPresence, true))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("outputs: want 2, got %d: %+v", len(res.Outputs), res.Outputs)
	}
	if res.Outputs[0].Text() != alexaWake || res.Outputs[1].Text() != alexaLightsOn {
		t.Errorf("two-step order wrong: %q then %q", res.Outputs[0].Text(), res.Outputs[1].Text())
	}
	for i, out := range res.Outputs {
		if out.Priority != event.PriorityHigh {
			t.Errorf("output %d priority: %v", i, out.Priority)
		}
		if out.MetaString(event.MetaTriggeredBy) == "" {
			t.Errorf("output %d missing triggered_by", i)
		}
	}
	if !st.LightOn() {
		t.Error("light state not recorded")
	}
}

// ─── TestPresenceNight_NoRefireWhenLit ───────────────────────────────────────

// TestPresenceNight_NoRefireWhenLit repeats the night arrival while the light
// is already on; the Alexa sequence must not be spoken again.
func TestPresenceNight_NoRefireWhenLit(t *testing.T) {
	t.Parallel()

	b, st := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, eveningClock)
	ctx := context.Background()

	res, err := b.Process(ctx, event.NewInput(event.InputSensorPresence, true))
	if err != nil {
		t.Fatalf("first arrival: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("first arrival outputs: want 2, got %d", len(res.Outputs))
	}

	// A flapping radar keeps reporting presence; the lights are lit already.
	for range 3 {
		res, err = b.Process(ctx, event.NewInput(event.InputSensorPresence, true))
		if err != nil {
			t.Fatalf("repeat arrival: %v", err)
		}
		if len(res.Outputs) != 0 {
			t.Fatalf("repeat arrival re-fired: %+v", res.Outputs)
		}
	}
	if !st.LightOn() {
		t.Error("light state lost")
	}
}

// ─── TestPresence_DayArrivalDoesNothing ──────────────────────────────────────

func TestPresence_DayArrivalDoesNothing(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, dayClock)

	res, err := b.Process(context.Background(), event.NewInput(event.InputSensorPresence, true))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Outputs) != 0 {
		t.Errorf("day arrival produced outputs: %+v", res.Outputs)
	}
}

// ─── TestPresence_LightOffTimer ──────────────────────────────────────────────

// TestPresence_LightOffTimer exercises the Null→t→Null lifecycle of the
// light-off timer.
func TestPresence_LightOffTimer(t *testing.T) {
	t.Parallel()

	b, st := newTestBrain(t, Config{LightOffTimeout: 10 * time.Minute}, &llmmock.Provider{})
	clock := eveningClock
	b.now = func() time.Time { return clock }
	b.lastArchivist = clock
	st.SetLightOn(true)
	ctx := context.Background()

	// Presence lost arms the timer.
	if _, err := b.Process(ctx, event.NewInput(event.InputSensorPresence, false)); err != nil {
		t.Fatalf("Process(false): %v", err)
	}
	if b.presenceLost == nil {
		t.Fatal("timer not armed")
	}

	// A second loss is a no-op on the armed timestamp.
	armed := *b.presenceLost
	clock = clock.Add(time.Minute)
	if _, err := b.Process(ctx, event.NewInput(event.InputSensorPresence, false)); err != nil {
		t.Fatalf("Process(false) again: %v", err)
	}
	if !b.presenceLost.Equal(armed) {
		t.Error("second absence moved the armed timestamp")
	}

	// Return before the timeout cancels without outputs.
	clock = clock.Add(time.Minute)
	res, err := b.Process(ctx, event.NewInput(event.InputSensorPresence, true))
	if err != nil {
		t.Fatalf("Process(true): %v", err)
	}
	if b.presenceLost != nil || len(res.Outputs) != 0 {
		t.Errorf("cancel failed: lost=%v outputs=%+v", b.presenceLost, res.Outputs)
	}
	if !st.LightOn() {
		t.Error("cancel must leave the lights alone")
	}

	// Re-arm and let the timeout elapse; the tick emits the off sequence.
	if _, err := b.Process(ctx, event.NewInput(event.InputSensorPresence, false)); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	clock = clock.Add(11 * time.Minute)
	outs := b.Tick(ctx)
	if len(outs) != 2 || outs[0].Text() != alexaWake || outs[1].Text() != alexaLightsOff {
		t.Fatalf("timeout outputs: %+v", outs)
	}
	if b.presenceLost != nil {
		t.Error("timer not cleared after firing")
	}
	if st.LightOn() {
		t.Error("light state not cleared")
	}

	// The sequence fires exactly once.
	if outs := b.Tick(ctx); len(outs) != 0 {
		t.Errorf("second tick re-fired: %+v", outs)
	}
}

// ─── TestArchivistTimer ──────────────────────────────────────────────────────

func TestArchivistTimer(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{ArchivistInterval: time.Hour}, &llmmock.Provider{})
	clock := dayClock
	b.now = func() time.Time { return clock }
	b.lastArchivist = clock
	ctx := context.Background()

	if outs := b.Tick(ctx); len(outs) != 0 {
		t.Fatalf("early tick fired: %+v", outs)
	}

	clock = clock.Add(61 * time.Minute)
	outs := b.Tick(ctx)
	if len(outs) != 1 || outs[0].Output != event.OutputDistillMemory {
		t.Fatalf("tick outputs: %+v", outs)
	}
	if outs[0].Priority != event.PriorityLow {
		t.Errorf("distill priority: %v", outs[0].Priority)
	}
	if got := outs[0].MetaFloat(event.MetaElapsedSeconds); got != (61 * time.Minute).Seconds() {
		t.Errorf("elapsed_seconds = %v, want %v", got, (61 * time.Minute).Seconds())
	}

	// Exactly once per interval.
	if outs := b.Tick(ctx); len(outs) != 0 {
		t.Errorf("tick re-fired: %+v", outs)
	}

	// An explicit trigger resets the interval too.
	clock = clock.Add(30 * time.Minute)
	res, err := b.Process(ctx, event.NewInput(event.InputTriggerArchivist, nil))
	if err != nil {
		t.Fatalf("Process(trigger): %v", err)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].Output != event.OutputDistillMemory {
		t.Fatalf("trigger outputs: %+v", res.Outputs)
	}
	if got := res.Outputs[0].MetaFloat(event.MetaElapsedSeconds); got != (30 * time.Minute).Seconds() {
		t.Errorf("trigger elapsed_seconds = %v, want %v", got, (30 * time.Minute).Seconds())
	}
	clock = clock.Add(31 * time.Minute)
	if outs := b.Tick(ctx); len(outs) != 0 {
		t.Errorf("interval not reset by explicit trigger: %+v", outs)
	}
}

// ─── TestChatSessionReset ────────────────────────────────────────────────────

func TestChatSessionReset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{}, &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	})
	setClock(b, dayClock)
	ctx := context.Background()

	before := b.SessionID()
	if _, err := b.Process(ctx, event.NewInput(event.InputChatSessionReset, nil)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if b.SessionID() == before {
		t.Error("session identifier did not rotate")
	}
}

// ─── TestShutdown ────────────────────────────────────────────────────────────

func TestShutdown(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, dayClock)
	ctx := context.Background()

	res, err := b.Process(ctx, event.NewInput(event.InputShutdown, nil,
		event.WithSource(event.SourceVoice)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].Text() != farewell ||
		res.Outputs[0].Priority != event.PriorityCritical {
		t.Errorf("voice shutdown outputs: %+v", res.Outputs)
	}

	res, err = b.Process(ctx, event.NewInput(event.InputShutdown, nil))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Outputs) != 0 {
		t.Errorf("silent shutdown produced outputs: %+v", res.Outputs)
	}
}

// ─── TestSensorTemperature ───────────────────────────────────────────────────

func TestSensorTemperature(t *testing.T) {
	t.Parallel()

	b, st := newTestBrain(t, Config{}, &llmmock.Provider{})
	setClock(b, dayClock)

	_, err := b.Process(context.Background(),
		event.NewInput(event.InputSensorTemperature, 21.5,
			event.WithMeta(event.MetaHumidity, 48.0)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if temp, hum := st.Climate(); temp != 21.5 || hum != 48 {
		t.Errorf("climate not recorded: %v, %v", temp, hum)
	}
}

// Package event defines the shared event algebra used across all Buddy packages.
//
// Events are the only currency exchanged between producers, the orchestrator,
// the decision layer and the output workers. An event carries a kind (input or
// output, never both), a priority, an opaque payload and free-form metadata.
// Cross-cutting payload types and the priority queue every component buffers
// events in live here to avoid circular imports.
package event

import (
	"fmt"
	"time"
)

// Priority orders events in every queue. Lower numeric value is more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the canonical upper-case name used on the wire.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority converts a wire name into a Priority.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "CRITICAL":
		return PriorityCritical, nil
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("event: unknown priority %q", name)
	}
}

// InputKind identifies an event produced by an input adapter.
type InputKind string

const (
	InputUserSpeech        InputKind = "user_speech"
	InputWakeword          InputKind = "wakeword"
	InputConversationEnd   InputKind = "conversation_end"
	InputInterrupt         InputKind = "interrupt"
	InputSensorPresence    InputKind = "sensor_presence"
	InputSensorMovement    InputKind = "sensor_movement"
	InputSensorTemperature InputKind = "sensor_temperature"
	InputDirectOutput      InputKind = "direct_output"
	InputAdapterCommand    InputKind = "adapter_command"
	InputTriggerArchivist  InputKind = "trigger_archivist"
	InputChatSessionReset  InputKind = "chat_session_reset"
	InputLightOn           InputKind = "light_on"
	InputLightOff          InputKind = "light_off"
	InputShutdown          InputKind = "shutdown"
	InputRestart           InputKind = "restart"
)

// inputKinds is the closed set accepted from the wire.
var inputKinds = map[InputKind]bool{
	InputUserSpeech: true, InputWakeword: true, InputConversationEnd: true,
	InputInterrupt: true, InputSensorPresence: true, InputSensorMovement: true,
	InputSensorTemperature: true, InputDirectOutput: true, InputAdapterCommand: true,
	InputTriggerArchivist: true, InputChatSessionReset: true,
	InputLightOn: true, InputLightOff: true, InputShutdown: true, InputRestart: true,
}

// ParseInputKind converts a wire name into an InputKind.
func ParseInputKind(name string) (InputKind, error) {
	k := InputKind(name)
	if !inputKinds[k] {
		return "", fmt.Errorf("event: unknown input kind %q", name)
	}
	return k, nil
}

// OutputKind identifies an event consumed by output adapters.
type OutputKind string

const (
	OutputSpeak         OutputKind = "speak"
	OutputLedControl    OutputKind = "led_control"
	OutputSaveHistory   OutputKind = "save_history"
	OutputSaveMemory    OutputKind = "save_memory"
	OutputDistillMemory OutputKind = "distill_memory"
	OutputLightOn       OutputKind = "light_on"
	OutputLightOff      OutputKind = "light_off"
)

var outputKinds = map[OutputKind]bool{
	OutputSpeak: true, OutputLedControl: true, OutputSaveHistory: true,
	OutputSaveMemory: true, OutputDistillMemory: true,
	OutputLightOn: true, OutputLightOff: true,
}

// ParseOutputKind converts a wire name into an OutputKind.
func ParseOutputKind(name string) (OutputKind, error) {
	k := OutputKind(name)
	if !outputKinds[k] {
		return "", fmt.Errorf("event: unknown output kind %q", name)
	}
	return k, nil
}

// ─── Metadata keys ───────────────────────────────────────────────────────────

// Well-known metadata keys. Adapters and the decision layer agree on these;
// everything else in Metadata is pass-through.
const (
	// MetaLed selects which indicator LED a led_control event targets.
	MetaLed = "led"
	// MetaLedCommand is one of "on", "off", "blink".
	MetaLedCommand = "command"
	// MetaContinuous marks a blink as continuous (until the next command).
	MetaContinuous = "continuous"
	// MetaOnTime / MetaOffTime are blink phase durations in seconds.
	MetaOnTime  = "on_time"
	MetaOffTime = "off_time"
	// MetaTimes is the blink repetition count for non-continuous blinks.
	MetaTimes = "times"
	// MetaHumidity carries relative humidity alongside sensor_temperature.
	MetaHumidity = "humidity"
	// MetaTriggeredBy tags outputs synthesised by the decision layer itself.
	MetaTriggeredBy = "triggered_by"
	// MetaElapsedSeconds reports how late a timer-driven event fired.
	MetaElapsedSeconds = "elapsed_seconds"
	// MetaRole distinguishes user and model turns on save_history events.
	MetaRole = "role"
)

// LED names.
const (
	LedListening = "ascolto"
	LedSpeaking  = "parlo"
)

// LED commands.
const (
	LedCommandOn    = "on"
	LedCommandOff   = "off"
	LedCommandBlink = "blink"
)

// Light targets for light_on / light_off output events.
const (
	LightTargetRoom = "stanza"
	LightTargetHall = "ingresso"
	LightTargetAll  = "tutto"
)

// Event sources with special meaning to the decision layer.
const (
	// SourceVoice marks events that originated from spoken interaction.
	// The decision layer answers those aloud.
	SourceVoice = "voice"
)

// ─── Payload types ───────────────────────────────────────────────────────────

// HistoryEntry is the payload of a save_history output event.
type HistoryEntry struct {
	// Role is "user" or "model".
	Role string `json:"role"`
	Text string `json:"text"`
}

// MemoryFact is the payload of a save_memory output event: one distilled
// long-term fact with its archivist metadata.
type MemoryFact struct {
	Fact       string `json:"fact"`
	Category   string `json:"category"`
	Notes      string `json:"notes"`
	Importance int    `json:"importance"`
}

// ─── Event ───────────────────────────────────────────────────────────────────

// Event is an immutable value flowing through the system. Exactly one of
// Input and Output is set; Content's concrete type depends on the kind.
//
// Events are created by constructors and never mutated after publication.
// Metadata maps are owned by the event; callers must not modify them after
// construction.
type Event struct {
	// Priority orders the event in every queue it traverses.
	Priority Priority

	// Input is set for events produced by input adapters.
	Input InputKind

	// Output is set for events consumed by output adapters.
	Output OutputKind

	// Content is the kind-specific payload. May be nil (e.g. led_control,
	// where everything lives in Metadata).
	Content any

	// Timestamp is wall-clock seconds at construction.
	Timestamp float64

	// Source identifies the producing adapter. Optional.
	Source string

	// Metadata carries kind-specific scalars and nested records.
	Metadata map[string]any
}

// now is swapped in tests to pin timestamps.
var now = time.Now

// Option configures an Event during construction.
type Option func(*Event)

// WithPriority overrides the default NORMAL priority.
func WithPriority(p Priority) Option {
	return func(e *Event) { e.Priority = p }
}

// WithSource tags the event with the producing adapter's name.
func WithSource(source string) Option {
	return func(e *Event) { e.Source = source }
}

// WithMeta sets a single metadata key, allocating the map on first use.
func WithMeta(key string, value any) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, 4)
		}
		e.Metadata[key] = value
	}
}

// WithMetadata replaces the whole metadata map. The event takes ownership.
func WithMetadata(md map[string]any) Option {
	return func(e *Event) { e.Metadata = md }
}

// NewInput creates an input event of the given kind at NORMAL priority.
func NewInput(kind InputKind, content any, opts ...Option) Event {
	e := Event{
		Priority:  PriorityNormal,
		Input:     kind,
		Content:   content,
		Timestamp: float64(now().UnixNano()) / 1e9,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

// NewOutput creates an output event of the given kind at NORMAL priority.
func NewOutput(kind OutputKind, content any, opts ...Option) Event {
	e := Event{
		Priority:  PriorityNormal,
		Output:    kind,
		Content:   content,
		Timestamp: float64(now().UnixNano()) / 1e9,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

// IsInput reports whether e carries an input kind.
func (e Event) IsInput() bool { return e.Input != "" }

// IsOutput reports whether e carries an output kind.
func (e Event) IsOutput() bool { return e.Output != "" }

// Kind returns the wire name of the event's kind, input or output.
func (e Event) Kind() string {
	if e.IsInput() {
		return string(e.Input)
	}
	return string(e.Output)
}

// Text returns the content as a string, or "" if it is not one.
func (e Event) Text() string {
	s, _ := e.Content.(string)
	return s
}

// Bool returns the content as a bool. Sensor events carry bool payloads.
func (e Event) Bool() bool {
	b, _ := e.Content.(bool)
	return b
}

// MetaString returns the metadata value under key as a string, or "" when
// absent or of another type.
func (e Event) MetaString(key string) string {
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaFloat returns the metadata value under key as a float64. Integer values
// are widened; anything else yields 0.
func (e Event) MetaFloat(key string) float64 {
	switch v := e.Metadata[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// MetaBool returns the metadata value under key as a bool.
func (e Event) MetaBool(key string) bool {
	b, _ := e.Metadata[key].(bool)
	return b
}

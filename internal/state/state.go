// Package state holds the process-wide flags shared between adapters and the
// decision layer: last known environment readings, presence and conversation
// timestamps, and the light/speaking indicators.
//
// Everything lives behind a single mutex. Prefer passing new facts through
// events; read this record only for cross-cutting decisions (the light-off
// timer, the scheduler's inactivity checks, echo suppression).
package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// Global is the shared state record. The zero value is ready to use.
// All methods are safe for concurrent use.
type Global struct {
	mu sync.Mutex

	temperature float64
	humidity    float64

	lastPresence         time.Time
	lastAbsence          time.Time
	lastConversationBeg  time.Time
	lastConversationEnd  time.Time

	lightOn bool

	// speaking is read on the audio hot path; kept atomic so adapters can
	// poll it without taking the record lock.
	speaking atomic.Bool
}

// SetClimate records the latest temperature (°C) and relative humidity (%).
func (g *Global) SetClimate(temperature, humidity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.temperature = temperature
	g.humidity = humidity
}

// Climate returns the last recorded temperature and humidity.
func (g *Global) Climate() (temperature, humidity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.temperature, g.humidity
}

// MarkPresence records t as the most recent moment presence was detected.
func (g *Global) MarkPresence(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPresence = t
}

// MarkAbsence records t as the most recent moment presence was lost.
func (g *Global) MarkAbsence(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAbsence = t
}

// Presence returns the last presence and absence timestamps. Zero values
// mean the transition has not been observed yet.
func (g *Global) Presence() (lastPresence, lastAbsence time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPresence, g.lastAbsence
}

// MarkConversationStart records the beginning of a voice conversation.
func (g *Global) MarkConversationStart(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastConversationBeg = t
}

// MarkConversationEnd records the end of a voice conversation.
func (g *Global) MarkConversationEnd(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastConversationEnd = t
}

// Conversation returns the last conversation start and end timestamps.
func (g *Global) Conversation() (start, end time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastConversationBeg, g.lastConversationEnd
}

// SetLightOn records whether the room lights are believed to be on.
func (g *Global) SetLightOn(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lightOn = on
}

// LightOn reports the believed light state.
func (g *Global) LightOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lightOn
}

// IsNightHour reports whether the wall-clock hour h falls in the
// evening/early-morning window during which presence switches the lights on.
func IsNightHour(h int) bool {
	return h >= 18 || h < 7
}

// SetSpeaking flips the speaking flag. Set by the speech output worker for
// the duration of playback.
func (g *Global) SetSpeaking(on bool) { g.speaking.Store(on) }

// Speaking reports whether speech output is currently playing. Lock-free.
func (g *Global) Speaking() bool { return g.speaking.Load() }

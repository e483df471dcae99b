// Package audiodev arbitrates the single capture/playback device between the
// speech input pipeline and the speech output worker.
//
// The device is modeled as a three-state machine: Idle, Listening, Speaking.
// Playback always wins: a speak request preempts an active listener, while a
// listen request is refused as long as playback holds the device. This is
// what keeps the assistant from transcribing its own voice.
package audiodev

import (
	"errors"
	"sync"
	"time"
)

// Mode is the current owner of the audio device.
type Mode int

const (
	ModeIdle Mode = iota
	ModeListening
	ModeSpeaking
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeListening:
		return "listening"
	case ModeSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ErrBusy is returned by RequestInput while playback holds the device.
var ErrBusy = errors.New("audiodev: device busy with playback")

// Coordinator serialises access to the audio device. The zero value is not
// usable; construct with New.
type Coordinator struct {
	mu      sync.Mutex
	changed *sync.Cond
	mode    Mode
}

func New() *Coordinator {
	c := &Coordinator{}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Mode returns the current device owner.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// RequestInput claims the device for capture. It fails with ErrBusy while
// playback is active; claiming over another listener is allowed (the input
// pipeline restarts its own capture).
func (c *Coordinator) RequestInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeSpeaking {
		return ErrBusy
	}
	c.setLocked(ModeListening)
	return nil
}

// RequestOutput claims the device for playback. It always succeeds,
// preempting an active listener. The previous mode is returned so the caller
// can tell whether capture was interrupted.
func (c *Coordinator) RequestOutput() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mode
	c.setLocked(ModeSpeaking)
	return prev
}

// Release returns the device to Idle if the caller's mode still owns it.
// A stale release (listener releasing after playback preempted it) is a
// no-op.
func (c *Coordinator) Release(owned Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == owned {
		c.setLocked(ModeIdle)
	}
}

// WaitUntilIdle blocks until the device is Idle or the timeout elapses.
// It reports whether the device reached Idle.
func (c *Coordinator) WaitUntilIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.mode != ModeIdle {
		if !time.Now().Before(deadline) {
			return false
		}
		t := time.AfterFunc(time.Until(deadline), c.changed.Broadcast)
		c.changed.Wait()
		t.Stop()
	}
	return true
}

func (c *Coordinator) setLocked(m Mode) {
	if c.mode != m {
		c.mode = m
		c.changed.Broadcast()
	}
}

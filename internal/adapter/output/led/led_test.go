package led

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

// fakePin records every level transition.
type fakePin struct {
	mu     sync.Mutex
	levels []bool
}

func (p *fakePin) Out(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, on)
	return nil
}

func (p *fakePin) history() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.levels...)
}

func (p *fakePin) last() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.levels) == 0 {
		return false, false
	}
	return p.levels[len(p.levels)-1], true
}

func newTestController(t *testing.T) (*Controller, map[string]*fakePin) {
	t.Helper()
	a, err := New(nil, adapter.Env{Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := a.(*Controller)
	pins := map[string]*fakePin{}
	c.lookup = func(name string) (pin, error) {
		p := &fakePin{}
		pins[name] = p
		return p, nil
	}
	return c, pins
}

func ledControl(led, command string, extra ...event.Option) event.Event {
	opts := append([]event.Option{
		event.WithMeta(event.MetaLed, led),
		event.WithMeta(event.MetaLedCommand, command),
	}, extra...)
	return event.NewOutput(event.OutputLedControl, nil, opts...)
}

func waitLevel(t *testing.T, p *fakePin, want bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if got, ok := p.last(); ok && got == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("pin never reached %v, history %v", want, p.history())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestApply_OnOff(t *testing.T) {
	t.Parallel()

	c, pins := newTestController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	c.Offer(ledControl(event.LedListening, event.LedCommandOn))
	waitLevel(t, pins["GPIO17"], true)

	c.Offer(ledControl(event.LedListening, event.LedCommandOff))
	waitLevel(t, pins["GPIO17"], false)
}

func TestApply_CountedBlinkEndsOff(t *testing.T) {
	t.Parallel()

	c, pins := newTestController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	c.Offer(ledControl(event.LedSpeaking, event.LedCommandBlink,
		event.WithMeta(event.MetaTimes, 2),
		event.WithMeta(event.MetaOnTime, 0.01),
		event.WithMeta(event.MetaOffTime, 0.01)))

	p := pins["GPIO27"]
	deadline := time.After(3 * time.Second)
	// Two repetitions plus the final off: 2×(on,off) then off.
	for len(p.history()) < 5 {
		select {
		case <-deadline:
			t.Fatalf("blink incomplete, history %v", p.history())
		case <-time.After(5 * time.Millisecond):
		}
	}
	h := p.history()
	if !h[0] || h[1] || !h[2] || h[3] {
		t.Errorf("blink pattern: %v", h)
	}
	if last, _ := p.last(); last {
		t.Errorf("led left on after counted blink: %v", h)
	}
}

func TestApply_ContinuousBlinkStoppedByNextCommand(t *testing.T) {
	t.Parallel()

	c, pins := newTestController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	c.Offer(ledControl(event.LedListening, event.LedCommandBlink,
		event.WithMeta(event.MetaContinuous, true),
		event.WithMeta(event.MetaOnTime, 0.01),
		event.WithMeta(event.MetaOffTime, 0.01)))

	p := pins["GPIO17"]
	deadline := time.After(3 * time.Second)
	for len(p.history()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("continuous blink not running, history %v", p.history())
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Offer(ledControl(event.LedListening, event.LedCommandOff))
	waitLevel(t, p, false)
	time.Sleep(50 * time.Millisecond)
	n := len(p.history())
	time.Sleep(50 * time.Millisecond)
	if len(p.history()) != n {
		t.Error("blink loop still toggling after off command")
	}
}

func TestApply_UnknownLedIsError(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	err := c.apply(context.Background(), ledControl("inesistente", event.LedCommandOn))
	if err == nil {
		t.Fatal("unknown led accepted")
	}
}

func TestHandleCommand_StateMapping(t *testing.T) {
	t.Parallel()

	c, pins := newTestController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if !c.HandleCommand(adapter.CmdLedSpeaking) {
		t.Fatal("LED_SPEAKING not handled")
	}
	waitLevel(t, pins["GPIO27"], true)

	if !c.HandleCommand(adapter.CmdLedIdle) {
		t.Fatal("LED_IDLE not handled")
	}
	waitLevel(t, pins["GPIO27"], false)
	waitLevel(t, pins["GPIO17"], false)

	if c.HandleCommand(adapter.CmdSensorPause) {
		t.Error("unrelated command handled")
	}
}

func TestNew_CustomPinMapping(t *testing.T) {
	t.Parallel()

	a, err := New(map[string]any{
		"pins": map[string]any{event.LedListening: "GPIO5"},
	}, adapter.Env{Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := a.(*Controller)
	if c.pinNames[event.LedListening] != "GPIO5" {
		t.Errorf("pin mapping: %v", c.pinNames)
	}
	if c.pinNames[event.LedSpeaking] != "GPIO27" {
		t.Errorf("default pin lost: %v", c.pinNames)
	}
}

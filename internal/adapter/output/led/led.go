// Package led implements the LED output adapter. It drives the indicator
// LEDs over GPIO: steady on/off plus continuous or count-limited blinking,
// selected by led_control event metadata.
package led

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	queueSize        = 32
	defaultPhase     = 0.5
	defaultBlinkReps = 3
)

// defaultPins maps led names to Raspberry Pi GPIO lines.
var defaultPins = map[string]string{
	event.LedListening: "GPIO17",
	event.LedSpeaking:  "GPIO27",
}

// pin is the single GPIO operation the adapter needs; swapped in tests.
type pin interface {
	Out(on bool) error
}

// indicator is one physical LED with its active blink loop, if any.
type indicator struct {
	pin    pin
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the LED output adapter.
type Controller struct {
	*adapter.Worker
	log *slog.Logger

	pinNames map[string]string

	mu   sync.Mutex
	leds map[string]*indicator

	// lookup resolves a GPIO line by name; swapped in tests.
	lookup func(name string) (pin, error)
}

var _ adapter.OutputAdapter = (*Controller)(nil)

// New builds a Controller from its adapter options. The "pins" option maps
// led names to GPIO line names; unset leds use the Raspberry Pi defaults.
func New(cfg map[string]any, env adapter.Env) (adapter.OutputAdapter, error) {
	pinNames := make(map[string]string, len(defaultPins))
	for name, line := range defaultPins {
		pinNames[name] = line
	}
	if raw, ok := cfg["pins"].(map[string]any); ok {
		for name, line := range raw {
			s, ok := line.(string)
			if !ok {
				return nil, fmt.Errorf("led: pin for %q is %T, want string", name, line)
			}
			pinNames[name] = s
		}
	}

	c := &Controller{
		log:      env.Log.With("adapter", "led"),
		pinNames: pinNames,
		leds:     make(map[string]*indicator),
		lookup:   lookupGPIO,
	}
	c.Worker = adapter.NewWorker("led", queueSize, env.Log, c.apply)
	return c, nil
}

func lookupGPIO(name string) (pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio line %q not found", name)
	}
	return gpioPin{p}, nil
}

// gpioPin adapts gpio.PinIO to the pin seam.
type gpioPin struct{ io gpio.PinIO }

func (p gpioPin) Out(on bool) error { return p.io.Out(gpio.Level(on)) }

// Name implements [adapter.OutputAdapter].
func (c *Controller) Name() string { return "led" }

// Kinds implements [adapter.OutputAdapter].
func (c *Controller) Kinds() []event.OutputKind {
	return []event.OutputKind{event.OutputLedControl}
}

// Start resolves every configured GPIO line, then launches the drain loop.
// A missing line is a construction-time failure.
func (c *Controller) Start(ctx context.Context) error {
	for name, line := range c.pinNames {
		p, err := c.lookup(line)
		if err != nil {
			return fmt.Errorf("led %q: %w", name, err)
		}
		c.leds[name] = &indicator{pin: p}
	}
	return c.Worker.Start(ctx)
}

// Stop turns every LED off and drains the worker.
func (c *Controller) Stop() error {
	err := c.Worker.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, led := range c.leds {
		c.stopBlinkLocked(led)
		if oerr := led.pin.Out(false); oerr != nil {
			c.log.Warn("led off failed on stop", "led", name, "error", oerr)
		}
	}
	return err
}

// HandleCommand maps the LED state commands onto the indicators: listening
// and thinking drive the ascolto led (steady and blinking), speaking drives
// parlo, idle turns everything off.
func (c *Controller) HandleCommand(cmd adapter.Command) bool {
	switch cmd {
	case adapter.CmdLedListening:
		c.setLogged(event.LedListening, event.LedCommandOn, blinkSpec{})
	case adapter.CmdLedThinking:
		c.setLogged(event.LedListening, event.LedCommandBlink,
			blinkSpec{onTime: defaultPhase, offTime: defaultPhase, continuous: true})
	case adapter.CmdLedSpeaking:
		c.setLogged(event.LedSpeaking, event.LedCommandOn, blinkSpec{})
	case adapter.CmdLedIdle:
		c.setLogged(event.LedListening, event.LedCommandOff, blinkSpec{})
		c.setLogged(event.LedSpeaking, event.LedCommandOff, blinkSpec{})
	default:
		return false
	}
	return true
}

func (c *Controller) setLogged(name, command string, spec blinkSpec) {
	if err := c.set(name, command, spec); err != nil {
		c.log.Warn("led command failed", "led", name, "error", err)
	}
}

// blinkSpec is the decoded blink metadata of a led_control event.
type blinkSpec struct {
	onTime     float64
	offTime    float64
	times      int
	continuous bool
}

// apply executes one led_control event.
func (c *Controller) apply(_ context.Context, ev event.Event) error {
	name := ev.MetaString(event.MetaLed)
	if name == "" {
		return fmt.Errorf("led_control without %q metadata", event.MetaLed)
	}
	command := ev.MetaString(event.MetaLedCommand)

	spec := blinkSpec{
		onTime:     metaFloatDefault(ev, event.MetaOnTime, defaultPhase),
		offTime:    metaFloatDefault(ev, event.MetaOffTime, defaultPhase),
		times:      int(metaFloatDefault(ev, event.MetaTimes, defaultBlinkReps)),
		continuous: ev.MetaBool(event.MetaContinuous),
	}
	return c.set(name, command, spec)
}

func metaFloatDefault(ev event.Event, key string, def float64) float64 {
	if _, ok := ev.Metadata[key]; !ok {
		return def
	}
	return ev.MetaFloat(key)
}

// set drives one LED. Any running blink loop is stopped first.
func (c *Controller) set(name, command string, spec blinkSpec) error {
	c.mu.Lock()
	led, ok := c.leds[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown led %q", name)
	}
	c.stopBlinkLocked(led)

	switch command {
	case event.LedCommandOn:
		c.mu.Unlock()
		return led.pin.Out(true)
	case event.LedCommandOff:
		c.mu.Unlock()
		return led.pin.Out(false)
	case event.LedCommandBlink:
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		led.cancel, led.done = cancel, done
		go c.blink(ctx, led.pin, done, spec)
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown led command %q", command)
	}
}

func (c *Controller) stopBlinkLocked(led *indicator) {
	if led.cancel == nil {
		return
	}
	led.cancel()
	<-led.done
	led.cancel, led.done = nil, nil
}

// blink toggles the LED through on/off phases until cancelled or, for
// count-limited blinks, until the repetitions run out. The LED is left off.
func (c *Controller) blink(ctx context.Context, p pin, done chan struct{}, spec blinkSpec) {
	defer close(done)
	defer p.Out(false)

	onPhase := time.Duration(spec.onTime * float64(time.Second))
	offPhase := time.Duration(spec.offTime * float64(time.Second))
	for n := 0; spec.continuous || n < spec.times; n++ {
		if p.Out(true) != nil {
			return
		}
		if !sleepCtx(ctx, onPhase) {
			return
		}
		if p.Out(false) != nil {
			return
		}
		if !sleepCtx(ctx, offPhase) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

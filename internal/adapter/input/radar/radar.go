// Package radar implements the presence-radar input adapter. It polls a
// 24 GHz presence sensor over UART, debounces the presence flag over K
// consecutive identical readings, and publishes SensorPresence transitions
// plus SensorMovement when the motion energy crosses a threshold.
package radar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	defaultPort     = "/dev/ttyUSB0"
	defaultBaud     = 256000
	defaultDebounce = 3
	defaultEnergy   = 50
	readTimeout     = 500 * time.Millisecond
	joinTimeout     = 3 * time.Second
)

// Sensor is the radar input adapter.
type Sensor struct {
	log *slog.Logger
	pub adapter.Publisher

	port      string
	baud      int
	debounceK int
	energyMin int

	mu     sync.Mutex
	paused bool

	// open is swapped in tests to avoid real hardware.
	open func() (io.ReadCloser, error)

	cancel context.CancelFunc
	done   chan struct{}
}

var _ adapter.InputAdapter = (*Sensor)(nil)

// New builds a Sensor from its adapter options. Recognised options: "port"
// (default /dev/ttyUSB0), "baud" (default 256000), "debounce" (consecutive
// identical readings before a transition, default 3) and "energy_threshold"
// (movement energy floor, default 50).
func New(cfg map[string]any, env adapter.Env) (adapter.InputAdapter, error) {
	if env.Pub == nil {
		return nil, fmt.Errorf("radar: a publisher is required")
	}
	s := &Sensor{
		log:       env.Log.With("adapter", "radar"),
		pub:       env.Pub,
		port:      adapter.OptString(cfg, "port", defaultPort),
		baud:      adapter.OptInt(cfg, "baud", defaultBaud),
		debounceK: adapter.OptInt(cfg, "debounce", defaultDebounce),
		energyMin: adapter.OptInt(cfg, "energy_threshold", defaultEnergy),
		done:      make(chan struct{}),
	}
	if s.debounceK < 1 {
		return nil, fmt.Errorf("radar: debounce must be at least 1, got %d", s.debounceK)
	}
	s.open = func() (io.ReadCloser, error) {
		return serial.Open(s.port, &serial.Mode{BaudRate: s.baud})
	}
	return s, nil
}

// Name implements [adapter.InputAdapter].
func (s *Sensor) Name() string { return "radar" }

// Start opens the serial port and launches the read loop. A missing device
// is a construction-time failure per the fail-fast startup policy.
func (s *Sensor) Start(ctx context.Context) error {
	port, err := s.open()
	if err != nil {
		return fmt.Errorf("radar: open %s: %w", s.port, err)
	}
	if p, ok := port.(serial.Port); ok {
		_ = p.SetReadTimeout(readTimeout)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx, port)
	return nil
}

// Stop joins the read loop.
func (s *Sensor) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-time.After(joinTimeout):
		s.log.Warn("read loop did not stop in time", "timeout", joinTimeout)
	}
	return nil
}

// HandleCommand implements the sensor pause/resume pair.
func (s *Sensor) HandleCommand(cmd adapter.Command) bool {
	switch cmd {
	case adapter.CmdSensorPause:
		s.setPaused(true)
		return true
	case adapter.CmdSensorResume:
		s.setPaused(false)
		return true
	default:
		return false
	}
}

func (s *Sensor) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *Sensor) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Sensor) run(ctx context.Context, port io.ReadCloser) {
	defer close(s.done)
	defer port.Close()

	var (
		buf       = make([]byte, 256)
		pending   []byte
		deb       = debouncer{k: s.debounceK}
		moving    bool
		published bool // at least one presence reading has gone out
		current   bool
	)

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("serial read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if n == 0 || s.isPaused() {
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			reading, rest, ok := ParseFrame(pending)
			if !ok {
				// Cap the scan buffer so a desynced stream cannot grow it
				// without bound.
				if len(pending) > 4096 {
					pending = pending[len(pending)-frameOverhead:]
				}
				break
			}
			pending = rest

			if settled, present := deb.feed(reading.Present); settled {
				if !published || present != current {
					published = true
					current = present
					s.log.Info("presence transition", "present", present)
					s.publish(event.NewInput(event.InputSensorPresence, present,
						event.WithSource("radar")))
				}
			}

			energetic := reading.MovingEnergy >= s.energyMin
			if energetic != moving {
				moving = energetic
				s.publish(event.NewInput(event.InputSensorMovement, moving,
					event.WithSource("radar"),
					event.WithMeta("energy", reading.MovingEnergy)))
			}
		}
	}
}

func (s *Sensor) publish(ev event.Event) {
	if !s.pub.Publish(ev) {
		s.log.Warn("input queue full, sensor event dropped", "kind", ev.Kind())
	}
}

// debouncer accepts a presence value only after k consecutive identical
// readings.
type debouncer struct {
	k     int
	last  bool
	count int
}

// feed records one reading and reports whether the value has settled.
func (d *debouncer) feed(v bool) (settled, value bool) {
	if d.count == 0 || v != d.last {
		d.last = v
		d.count = 1
	} else {
		d.count++
	}
	if d.count >= d.k {
		return true, d.last
	}
	return false, false
}

// Package envsensor implements the temperature input adapter. It polls a
// BME280 environment sensor over I²C and publishes SensorTemperature events
// carrying relative humidity in metadata. The physical sensor has a minimum
// read interval; reads requested sooner return the cached sample.
package envsensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	defaultAddress  = 0x76
	defaultInterval = time.Minute
	// minReadInterval is the shortest cadence the sensor tolerates in forced
	// mode; faster polls are served from the cached sample.
	minReadInterval = 2 * time.Second
	joinTimeout     = 3 * time.Second
)

// probe abstracts the physical sensor for tests.
type probe interface {
	Sense() (temperature, humidity float64, err error)
	Close() error
}

// Meter is the environment-sensor input adapter.
type Meter struct {
	log *slog.Logger
	pub adapter.Publisher

	bus      string
	address  uint16
	interval time.Duration

	mu       sync.Mutex
	paused   bool
	lastRead time.Time
	cachedT  float64
	cachedH  float64
	haveRead bool

	// open is swapped in tests to avoid real hardware.
	open func() (probe, error)

	cancel context.CancelFunc
	done   chan struct{}
}

var _ adapter.InputAdapter = (*Meter)(nil)

// New builds a Meter from its adapter options. Recognised options: "bus"
// (I²C bus name, default first available), "address" (default 0x76) and
// "interval_seconds" (poll cadence, default 60).
func New(cfg map[string]any, env adapter.Env) (adapter.InputAdapter, error) {
	if env.Pub == nil {
		return nil, fmt.Errorf("envsensor: a publisher is required")
	}
	m := &Meter{
		log:      env.Log.With("adapter", "envsensor"),
		pub:      env.Pub,
		bus:      adapter.OptString(cfg, "bus", ""),
		address:  uint16(adapter.OptInt(cfg, "address", defaultAddress)),
		interval: time.Duration(adapter.OptFloat(cfg, "interval_seconds", defaultInterval.Seconds()) * float64(time.Second)),
		done:     make(chan struct{}),
	}
	if m.interval <= 0 {
		return nil, fmt.Errorf("envsensor: interval must be positive, got %s", m.interval)
	}
	m.open = m.openHardware
	return m, nil
}

// Name implements [adapter.InputAdapter].
func (m *Meter) Name() string { return "envsensor" }

// Start probes the sensor and launches the poll loop. A missing sensor is a
// construction-time failure per the fail-fast startup policy.
func (m *Meter) Start(ctx context.Context) error {
	p, err := m.open()
	if err != nil {
		return fmt.Errorf("envsensor: %w", err)
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx, p)
	return nil
}

// Stop joins the poll loop.
func (m *Meter) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	select {
	case <-m.done:
	case <-time.After(joinTimeout):
		m.log.Warn("poll loop did not stop in time", "timeout", joinTimeout)
	}
	return nil
}

// HandleCommand implements the sensor pause/resume pair.
func (m *Meter) HandleCommand(cmd adapter.Command) bool {
	switch cmd {
	case adapter.CmdSensorPause:
		m.setPaused(true)
		return true
	case adapter.CmdSensorResume:
		m.setPaused(false)
		return true
	default:
		return false
	}
}

func (m *Meter) setPaused(p bool) {
	m.mu.Lock()
	m.paused = p
	m.mu.Unlock()
}

func (m *Meter) run(ctx context.Context, p probe) {
	defer close(m.done)
	defer func() {
		if err := p.Close(); err != nil {
			m.log.Warn("sensor close failed", "error", err)
		}
	}()

	tick := time.NewTicker(m.interval)
	defer tick.Stop()

	m.poll(p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.poll(p)
		}
	}
}

// poll takes one reading, honouring the sensor's minimum read interval by
// reusing the cached sample, and publishes it unless paused.
func (m *Meter) poll(p probe) {
	m.mu.Lock()
	paused := m.paused
	useCache := m.haveRead && time.Since(m.lastRead) < minReadInterval
	t, h := m.cachedT, m.cachedH
	m.mu.Unlock()
	if paused {
		return
	}

	if !useCache {
		var err error
		t, h, err = p.Sense()
		if err != nil {
			m.log.Error("sensor read failed", "error", err)
			return
		}
		m.mu.Lock()
		m.lastRead = time.Now()
		m.cachedT, m.cachedH = t, h
		m.haveRead = true
		m.mu.Unlock()
	}

	m.log.Debug("environment reading", "temperature", t, "humidity", h)
	ev := event.NewInput(event.InputSensorTemperature, t,
		event.WithSource("envsensor"),
		event.WithMeta(event.MetaHumidity, h))
	if !m.pub.Publish(ev) {
		m.log.Warn("input queue full, reading dropped")
	}
}

// bmeProbe wraps the BME280 driver behind the probe seam.
type bmeProbe struct {
	bus interface{ Close() error }
	dev *bmxx80.Dev
}

func (m *Meter) openHardware() (probe, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(m.bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", m.bus, err)
	}
	dev, err := bmxx80.NewI2C(bus, m.address, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("probe bme280 at %#x: %w", m.address, err)
	}
	return &bmeProbe{bus: bus, dev: dev}, nil
}

func (p *bmeProbe) Sense() (float64, float64, error) {
	var env physic.Env
	if err := p.dev.Sense(&env); err != nil {
		return 0, 0, err
	}
	return env.Temperature.Celsius(), float64(env.Humidity) / float64(physic.PercentRH), nil
}

func (p *bmeProbe) Close() error {
	if err := p.dev.Halt(); err != nil {
		p.bus.Close()
		return err
	}
	return p.bus.Close()
}

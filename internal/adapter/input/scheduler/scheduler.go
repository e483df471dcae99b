// Package scheduler implements the time-driven input adapter. It watches the
// shared state record and emits housekeeping events: a chat-session reset and
// an archivist trigger once a conversation has been idle long enough, and
// (when enabled) presence-driven light events in the evening hours.
//
// The light logic is off by default: the decision layer already turns the
// lights on when presence returns at night, and running both paths would
// double-fire. Enable the "lights" option only when that proactive handling
// is not wanted in the core.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultIdleThreshold = 10 * time.Minute
	defaultAbsenceOff    = 15 * time.Minute
	joinTimeout          = 3 * time.Second
)

// Cron is the scheduler input adapter.
type Cron struct {
	log   *slog.Logger
	pub   adapter.Publisher
	state *state.Global

	checkInterval time.Duration
	idleThreshold time.Duration
	absenceOff    time.Duration
	lights        bool

	now func() time.Time

	// handledEnd is the conversation-end timestamp the reset/archivist pair
	// has already fired for.
	handledEnd time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

var _ adapter.InputAdapter = (*Cron)(nil)

// New builds a Cron from its adapter options. Recognised options:
// "check_interval_seconds" (default 30), "idle_threshold_seconds" (quiet time
// after a conversation before reset+archive, default 600), "lights" (enable
// presence-driven light events, default false) and "absence_off_seconds"
// (absence time before lights-off when lights are enabled, default 900).
func New(cfg map[string]any, env adapter.Env) (adapter.InputAdapter, error) {
	if env.Pub == nil || env.State == nil {
		return nil, fmt.Errorf("scheduler: publisher and shared state are required")
	}
	c := &Cron{
		log:           env.Log.With("adapter", "scheduler"),
		pub:           env.Pub,
		state:         env.State,
		checkInterval: secondsOpt(cfg, "check_interval_seconds", defaultCheckInterval),
		idleThreshold: secondsOpt(cfg, "idle_threshold_seconds", defaultIdleThreshold),
		absenceOff:    secondsOpt(cfg, "absence_off_seconds", defaultAbsenceOff),
		lights:        adapter.OptBool(cfg, "lights", false),
		now:           time.Now,
		done:          make(chan struct{}),
	}
	if c.checkInterval <= 0 || c.idleThreshold <= 0 {
		return nil, fmt.Errorf("scheduler: intervals must be positive")
	}
	return c, nil
}

func secondsOpt(cfg map[string]any, key string, def time.Duration) time.Duration {
	return time.Duration(adapter.OptFloat(cfg, key, def.Seconds()) * float64(time.Second))
}

// Name implements [adapter.InputAdapter].
func (c *Cron) Name() string { return "scheduler" }

// Start launches the check loop.
func (c *Cron) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Stop joins the check loop.
func (c *Cron) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.done:
	case <-time.After(joinTimeout):
		c.log.Warn("check loop did not stop in time", "timeout", joinTimeout)
	}
	return nil
}

// HandleCommand implements [adapter.InputAdapter]. The scheduler reacts to no
// adapter commands.
func (c *Cron) HandleCommand(adapter.Command) bool { return false }

func (c *Cron) run(ctx context.Context) {
	defer close(c.done)
	tick := time.NewTicker(c.checkInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.check()
		}
	}
}

// check runs one pass over the shared state.
func (c *Cron) check() {
	now := c.now()
	c.checkConversation(now)
	if c.lights {
		c.checkLights(now)
	}
}

// checkConversation fires the reset/archivist pair once per conversation end
// after the idle threshold has elapsed with no new conversation.
func (c *Cron) checkConversation(now time.Time) {
	start, end := c.state.Conversation()
	if end.IsZero() || start.After(end) {
		return // never conversed, or a conversation is in progress
	}
	if end.Equal(c.handledEnd) || now.Sub(end) < c.idleThreshold {
		return
	}
	c.handledEnd = end
	c.log.Info("conversation idle, resetting session and archiving",
		"idle", now.Sub(end).Round(time.Second))
	c.publish(event.NewInput(event.InputChatSessionReset, nil,
		event.WithPriority(event.PriorityLow),
		event.WithSource("scheduler")))
	c.publish(event.NewInput(event.InputTriggerArchivist, nil,
		event.WithPriority(event.PriorityLow),
		event.WithSource("scheduler")))
}

// checkLights emits light events from presence timestamps and the wall clock.
// The believed light state gates both directions so a standing condition
// fires only once.
func (c *Cron) checkLights(now time.Time) {
	presence, absence := c.state.Presence()
	present := !presence.IsZero() && presence.After(absence)

	switch {
	case present && state.IsNightHour(now.Hour()) && !c.state.LightOn():
		c.log.Info("presence at night, requesting lights on")
		c.publish(event.NewInput(event.InputLightOn, event.LightTargetRoom,
			event.WithSource("scheduler")))

	case !present && !absence.IsZero() && now.Sub(absence) >= c.absenceOff && c.state.LightOn():
		c.log.Info("prolonged absence, requesting lights off",
			"absent", now.Sub(absence).Round(time.Second))
		c.publish(event.NewInput(event.InputLightOff, event.LightTargetRoom,
			event.WithSource("scheduler")))
	}
}

func (c *Cron) publish(ev event.Event) {
	if !c.pub.Publish(ev) {
		c.log.Warn("input queue full, scheduled event dropped", "kind", ev.Kind())
	}
}

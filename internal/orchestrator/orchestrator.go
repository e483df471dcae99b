// Package orchestrator runs the single-consumer main loop: dequeue one input
// event, let the decision layer process it, route the resulting outputs and
// broadcast the resulting adapter commands.
//
// There is exactly one consumer goroutine, so the decision layer never sees
// concurrent events. Producers stay decoupled behind the bounded input queue.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/brain"
	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/internal/router"
	"github.com/buddy-assistant/buddy/pkg/event"
)

// dequeueTimeout bounds each blocking dequeue so the timer checks run even
// when no events arrive.
const dequeueTimeout = time.Second

// ErrRestartRequested is returned from Run when a restart event was
// processed. The process manager is expected to start a fresh instance.
var ErrRestartRequested = errors.New("orchestrator: restart requested")

// Orchestrator owns the main loop and the lifecycle of the adapter set.
type Orchestrator struct {
	log     *slog.Logger
	metrics *observe.Metrics

	input   *event.Queue
	manager *adapter.Manager
	router  *router.Router
	brain   *brain.Brain
}

// New wires the main loop over the shared input queue, the adapter manager,
// the output router and the decision layer.
func New(input *event.Queue, mgr *adapter.Manager, rtr *router.Router, brn *brain.Brain, log *slog.Logger, metrics *observe.Metrics) *Orchestrator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		log:     log.With("component", "orchestrator"),
		metrics: metrics,
		input:   input,
		manager: mgr,
		router:  rtr,
		brain:   brn,
	}
}

// Run starts every adapter, consumes the input queue until ctx is cancelled
// or a shutdown/restart event arrives, then stops all adapters. A shutdown
// event yields a nil return; a restart event yields ErrRestartRequested.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.manager.StartAll(ctx); err != nil {
		return err
	}

	runErr := o.loop(ctx)

	if err := o.manager.StopAll(); err != nil {
		o.log.Warn("adapter shutdown reported errors", "error", err)
	}
	stats := o.router.Stats()
	o.log.Info("main loop finished",
		"routed", stats.Routed, "dropped", stats.Dropped, "no_route", stats.NoRoute)
	return runErr
}

func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		// Checked every iteration, not just on idle: a busy queue must not
		// starve cancellation.
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, ok := o.input.Get(dequeueTimeout)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Idle tick: the timers may still have something to say.
			o.router.RouteBatch(o.brain.Tick(ctx))
			continue
		}

		o.metrics.QueueDepth.Record(ctx, int64(o.input.Len()),
			metric.WithAttributes(observe.Attr("queue", "input")))
		o.dispatch(ctx, ev)

		switch ev.Input {
		case event.InputShutdown:
			o.log.Info("shutdown event processed, leaving main loop", "source", ev.Source)
			return nil
		case event.InputRestart:
			o.log.Info("restart event processed, leaving main loop", "source", ev.Source)
			return ErrRestartRequested
		}
	}
}

// dispatch runs one event through the derivation rules and the decision
// layer, then fans the results out. Validation failures are logged and the
// event is dropped; timer outputs produced alongside the failure still route.
func (o *Orchestrator) dispatch(ctx context.Context, ev event.Event) {
	derived := o.manager.Handle(ev)

	res, err := o.brain.Process(ctx, ev)
	if err != nil {
		if errors.Is(err, brain.ErrValidation) {
			o.log.Warn("event dropped", "kind", ev.Kind(), "source", ev.Source, "error", err)
		} else {
			o.log.Error("processing failed", "kind", ev.Kind(), "source", ev.Source, "error", err)
		}
	}

	o.router.RouteBatch(res.Outputs)

	for _, cmd := range res.Commands {
		if containsCommand(derived, cmd) {
			// Already broadcast by the derivation pass; commands are
			// idempotent but there is no point repeating the fan-out.
			continue
		}
		o.manager.Broadcast(cmd)
	}
}

func containsCommand(cmds []adapter.Command, cmd adapter.Command) bool {
	for _, c := range cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

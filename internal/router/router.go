// Package router dispatches output events from the decision layer to the
// output adapters subscribed to each kind.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/pkg/event"
)

// Subscriber receives routed events. Offer must not block; it reports
// whether the event was accepted.
type Subscriber interface {
	Name() string
	Offer(ev event.Event) bool
}

// Stats is a snapshot of routing outcomes. routed + dropped equals the
// number of (event, subscriber) pairs attempted; no_route counts events with
// an empty subscriber list.
type Stats struct {
	Routed  int64
	Dropped int64
	NoRoute int64
}

// Router maps output kinds to ordered subscriber lists. Registration order
// is delivery order. Safe for concurrent use; the table lock is never held
// across an Offer call.
type Router struct {
	mu    sync.RWMutex
	table map[event.OutputKind][]Subscriber

	routed  atomic.Int64
	dropped atomic.Int64
	noRoute atomic.Int64

	log     *slog.Logger
	metrics *observe.Metrics
}

// New returns an empty router. A nil metrics falls back to the package
// default instruments.
func New(log *slog.Logger, metrics *observe.Metrics) *Router {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Router{
		table:   make(map[event.OutputKind][]Subscriber),
		log:     log.With("component", "router"),
		metrics: metrics,
	}
}

// Register binds sub to kind. A subscriber already bound to that kind is not
// added twice.
func (r *Router) Register(kind event.OutputKind, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.table[kind] {
		if s == sub {
			return
		}
	}
	r.table[kind] = append(r.table[kind], sub)
}

// Route dispatches ev to every subscriber bound to its kind and returns the
// number delivered. A subscriber that panics during Offer is logged, counted
// as dropped, and stays registered.
func (r *Router) Route(ev event.Event) int {
	ctx := context.Background()
	kindAttr := metric.WithAttributes(observe.Attr("kind", ev.Kind()))

	r.mu.RLock()
	subs := append([]Subscriber(nil), r.table[ev.Output]...)
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.noRoute.Add(1)
		r.metrics.NoRoute.Add(ctx, 1)
		r.log.Debug("no subscribers for kind", "kind", ev.Kind())
		return 0
	}

	delivered := 0
	for _, sub := range subs {
		if r.offer(sub, ev) {
			delivered++
			r.routed.Add(1)
			r.metrics.Routed.Add(ctx, 1, kindAttr)
		} else {
			r.dropped.Add(1)
			r.metrics.Dropped.Add(ctx, 1, kindAttr)
			r.log.Warn("subscriber refused event", "subscriber", sub.Name(), "kind", ev.Kind())
		}
	}
	return delivered
}

// offer shields the routing loop from a panicking subscriber.
func (r *Router) offer(sub Subscriber, ev event.Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("subscriber panicked in offer",
				"subscriber", sub.Name(), "kind", ev.Kind(), "panic", rec)
			ok = false
		}
	}()
	return sub.Offer(ev)
}

// RouteBatch routes events in order and returns the total delivered.
func (r *Router) RouteBatch(evs []event.Event) int {
	delivered := 0
	for _, ev := range evs {
		delivered += r.Route(ev)
	}
	return delivered
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Routed:  r.routed.Load(),
		Dropped: r.dropped.Load(),
		NoRoute: r.noRoute.Load(),
	}
}

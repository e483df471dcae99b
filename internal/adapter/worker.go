package adapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	// workerPoll bounds each queue read so the loop observes cancellation.
	workerPoll = 500 * time.Millisecond
	// joinTimeout is how long Stop waits for a worker to drain before
	// giving up with a warning.
	joinTimeout = 3 * time.Second
)

// Worker is the drain loop every output adapter embeds: a private bounded
// priority queue plus a single goroutine that executes one event to
// completion before taking the next. Handler errors are logged and the loop
// continues.
type Worker struct {
	name   string
	queue  *event.Queue
	handle func(ctx context.Context, ev event.Event) error
	log    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker builds a worker named after its adapter with a queue of the given
// capacity. The handler runs on the worker goroutine only.
func NewWorker(name string, queueSize int, log *slog.Logger, handle func(ctx context.Context, ev event.Event) error) *Worker {
	return &Worker{
		name:   name,
		queue:  event.NewQueue(queueSize),
		handle: handle,
		log:    log.With("adapter", name),
		done:   make(chan struct{}),
	}
}

// Offer enqueues one routed event without blocking.
func (w *Worker) Offer(ev event.Event) bool { return w.queue.Offer(ev) }

// Len reports the current queue depth.
func (w *Worker) Len() int { return w.queue.Len() }

// Start launches the drain loop.
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		ev, ok := w.queue.Get(workerPoll)
		if !ok {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		if err := w.handle(ctx, ev); err != nil {
			w.log.Error("event handling failed", "kind", ev.Kind(), "error", err)
		}
	}
}

// Stop closes the queue and joins the drain loop, warning if it does not
// finish within the join timeout. Remaining queued events are discarded.
func (w *Worker) Stop() error {
	w.queue.Close()
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.done:
	case <-time.After(joinTimeout):
		w.log.Warn("worker did not stop in time", "timeout", joinTimeout)
	}
	return nil
}

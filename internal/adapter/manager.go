package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/buddy-assistant/buddy/pkg/event"
)

// Manager owns adapter lifecycles, the synchronous command broadcast, and the
// barge-in fan-in. It implements [Publisher] so input adapters publish
// through it into the shared input queue and the interrupt queue.
type Manager struct {
	log        *slog.Logger
	input      *event.Queue
	interrupts chan event.Event

	inputs  []InputAdapter
	outputs []OutputAdapter

	cancel      context.CancelFunc
	done        chan struct{}
	loopStarted bool
}

var _ Publisher = (*Manager)(nil)

// NewManager wires a manager over the shared input queue with a bounded
// interrupt queue of the given size.
func NewManager(input *event.Queue, interruptSize int, log *slog.Logger) *Manager {
	if interruptSize <= 0 {
		interruptSize = 1
	}
	return &Manager{
		log:        log.With("component", "adapters"),
		input:      input,
		interrupts: make(chan event.Event, interruptSize),
		done:       make(chan struct{}),
	}
}

// AddInput registers a constructed input adapter. Order is start order.
func (m *Manager) AddInput(a InputAdapter) { m.inputs = append(m.inputs, a) }

// AddOutput registers a constructed output adapter. Order is start order.
func (m *Manager) AddOutput(a OutputAdapter) { m.outputs = append(m.outputs, a) }

// Outputs returns the registered output adapters for router wiring.
func (m *Manager) Outputs() []OutputAdapter { return m.outputs }

// Publish offers an event to the shared input queue without blocking.
func (m *Manager) Publish(ev event.Event) bool {
	ok := m.input.Offer(ev)
	if !ok {
		m.log.Warn("input queue full, event dropped", "kind", ev.Kind(), "source", ev.Source)
	}
	return ok
}

// Interrupt offers a barge-in event to the interrupt queue without blocking.
func (m *Manager) Interrupt(ev event.Event) bool {
	select {
	case m.interrupts <- ev:
		return true
	default:
		m.log.Warn("interrupt queue full, event dropped", "source", ev.Source)
		return false
	}
}

// StartAll starts every output adapter, then every input adapter, then the
// interrupt worker. On the first failure it stops what already started and
// returns the error.
func (m *Manager) StartAll(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	var started []interface{ Stop() error }
	fail := func(name string, err error) error {
		for i := len(started) - 1; i >= 0; i-- {
			_ = started[i].Stop()
		}
		return fmt.Errorf("adapter: start %s: %w", name, err)
	}

	for _, a := range m.outputs {
		if err := a.Start(ctx); err != nil {
			return fail(a.Name(), err)
		}
		started = append(started, a)
		m.log.Info("output adapter started", "adapter", a.Name())
	}
	for _, a := range m.inputs {
		if err := a.Start(ctx); err != nil {
			return fail(a.Name(), err)
		}
		started = append(started, a)
		m.log.Info("input adapter started", "adapter", a.Name())
	}

	m.loopStarted = true
	go m.interruptLoop(ctx)
	return nil
}

// interruptLoop drains the barge-in queue: stop ongoing speech, then
// re-inject the interruption content as high-priority user speech.
func (m *Manager) interruptLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.interrupts:
			for _, a := range m.outputs {
				a.HandleCommand(CmdVoiceOutputStop)
			}
			speech := event.NewInput(event.InputUserSpeech, ev.Content,
				event.WithPriority(event.PriorityHigh),
				event.WithSource(ev.Source),
				event.WithMetadata(ev.Metadata))
			if !m.input.Offer(speech) {
				m.log.Warn("input queue full, interrupt speech dropped", "source", ev.Source)
			}
		}
	}
}

// StopAll stops input adapters first, then output adapters, each class in
// parallel with each adapter's own bounded join, and finally joins the
// interrupt worker. All stop errors are collected.
func (m *Manager) StopAll() error {
	if m.cancel != nil {
		m.cancel()
	}

	stopClass := func(name string, as []interface{ Stop() error }) error {
		var g errgroup.Group
		for _, a := range as {
			g.Go(a.Stop)
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("adapter: stop %s: %w", name, err)
		}
		return nil
	}

	ins := make([]interface{ Stop() error }, len(m.inputs))
	for i, a := range m.inputs {
		ins[i] = a
	}
	outs := make([]interface{ Stop() error }, len(m.outputs))
	for i, a := range m.outputs {
		outs[i] = a
	}

	errIn := stopClass("inputs", ins)
	errOut := stopClass("outputs", outs)
	if m.loopStarted {
		<-m.done
	}

	if errIn != nil {
		return errIn
	}
	return errOut
}

// Handle derives adapter commands from one input event and broadcasts them
// synchronously before the decision layer sees the event. The derived
// commands are returned in broadcast order.
func (m *Manager) Handle(ev event.Event) []Command {
	var cmds []Command
	switch ev.Input {
	case event.InputWakeword:
		cmds = []Command{CmdWakewordListenStop, CmdVoiceInputStart}
	case event.InputConversationEnd:
		cmds = []Command{CmdWakewordListenStart}
	}
	for _, cmd := range cmds {
		m.Broadcast(cmd)
	}
	return cmds
}

// Broadcast offers one command to every registered adapter, inputs then
// outputs, and returns how many acted on it.
func (m *Manager) Broadcast(cmd Command) int {
	acted := 0
	for _, a := range m.inputs {
		if a.HandleCommand(cmd) {
			acted++
		}
	}
	for _, a := range m.outputs {
		if a.HandleCommand(cmd) {
			acted++
		}
	}
	m.log.Debug("command broadcast", "command", cmd, "acted", acted)
	return acted
}

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/brain"
	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/internal/router"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
	llmmock "github.com/buddy-assistant/buddy/pkg/provider/llm/mock"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// recordingSub collects every event it is offered.
type recordingSub struct {
	mu   sync.Mutex
	name string
	seen []event.Event
}

func (s *recordingSub) Name() string { return s.name }

func (s *recordingSub) Offer(ev event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, ev)
	return true
}

func (s *recordingSub) events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.seen...)
}

type fixture struct {
	queue  *event.Queue
	router *router.Router
	orch   *Orchestrator
	llm    *llmmock.Provider
}

func newFixture(t *testing.T, cfg brain.Config) *fixture {
	t.Helper()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if cfg.ArchivistInterval == 0 {
		cfg.ArchivistInterval = time.Hour
	}

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "reply"},
	}
	queue := event.NewQueue(64)
	mgr := adapter.NewManager(queue, 8, discard())
	rtr := router.New(discard(), metrics)
	session := brain.NewSession(provider, "", 0, metrics)
	brn := brain.New(cfg, session, &state.Global{}, discard(), metrics)

	return &fixture{
		queue:  queue,
		router: rtr,
		orch:   New(queue, mgr, rtr, brn, discard(), metrics),
		llm:    provider,
	}
}

// ─── TestRun_PriorityOrdering ────────────────────────────────────────────────

// TestRun_PriorityOrdering pre-fills the queue with mixed priorities and
// checks the spoken outputs drain most-urgent first.
func TestRun_PriorityOrdering(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brain.Config{})
	speak := &recordingSub{name: "speech"}
	f.router.Register(event.OutputSpeak, speak)

	// Enqueue before the loop starts so ordering is purely priority-driven.
	f.queue.Offer(event.NewInput(event.InputUserSpeech, "ciao",
		event.WithSource(event.SourceVoice)))
	f.queue.Offer(event.NewInput(event.InputDirectOutput,
		event.NewOutput(event.OutputSpeak, "urgente", event.WithPriority(event.PriorityHigh)),
		event.WithPriority(event.PriorityCritical)))
	f.queue.Offer(event.NewInput(event.InputShutdown, nil,
		event.WithPriority(event.PriorityLow)))

	if err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := speak.events()
	if len(got) != 2 {
		t.Fatalf("spoken outputs: want 2, got %d: %+v", len(got), got)
	}
	if got[0].Text() != "urgente" || got[1].Text() != "reply" {
		t.Errorf("order wrong: %q then %q", got[0].Text(), got[1].Text())
	}
}

// ─── TestRun_ShutdownAndRestart ──────────────────────────────────────────────

func TestRun_ShutdownAndRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brain.Config{})
	f.queue.Offer(event.NewInput(event.InputShutdown, nil))
	if err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run after shutdown: %v", err)
	}

	f = newFixture(t, brain.Config{})
	f.queue.Offer(event.NewInput(event.InputRestart, nil))
	if err := f.orch.Run(context.Background()); !errors.Is(err, ErrRestartRequested) {
		t.Fatalf("Run after restart: err = %v, want ErrRestartRequested", err)
	}
}

// ─── TestRun_ValidationErrorDoesNotStopLoop ──────────────────────────────────

func TestRun_ValidationErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brain.Config{})
	speak := &recordingSub{name: "speech"}
	f.router.Register(event.OutputSpeak, speak)

	f.queue.Offer(event.NewInput(event.InputAdapterCommand, "NOT_A_COMMAND",
		event.WithPriority(event.PriorityHigh)))
	f.queue.Offer(event.NewInput(event.InputDirectOutput,
		event.NewOutput(event.OutputSpeak, "dopo")))
	f.queue.Offer(event.NewInput(event.InputShutdown, nil,
		event.WithPriority(event.PriorityLow)))

	if err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := speak.events()
	if len(got) != 1 || got[0].Text() != "dopo" {
		t.Errorf("loop did not survive the bad event: %+v", got)
	}
}

// ─── TestRun_VoiceShutdownSpeaksFarewell ─────────────────────────────────────

func TestRun_VoiceShutdownSpeaksFarewell(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brain.Config{})
	speak := &recordingSub{name: "speech"}
	f.router.Register(event.OutputSpeak, speak)

	f.queue.Offer(event.NewInput(event.InputShutdown, nil,
		event.WithSource(event.SourceVoice)))
	if err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := speak.events()
	if len(got) != 1 || got[0].Priority != event.PriorityCritical {
		t.Errorf("farewell not routed before exit: %+v", got)
	}
}

// ─── TestRun_TimersFireOnIdleTimeout ─────────────────────────────────────────

// TestRun_TimersFireOnIdleTimeout leaves the queue empty so the loop hits
// its dequeue timeout and the archivist timer fires through the idle tick.
func TestRun_TimersFireOnIdleTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brain.Config{ArchivistInterval: 100 * time.Millisecond})
	distill := &recordingSub{name: "archivist"}
	f.router.Register(event.OutputDistillMemory, distill)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	// One full dequeue timeout must elapse before the first idle tick.
	deadline := time.After(3 * time.Second)
	for len(distill.events()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("archivist never fired on idle")
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: err = %v, want context.Canceled", err)
	}
}

// ─── TestRun_CancelWithBusyQueue ─────────────────────────────────────────────

// TestRun_CancelWithBusyQueue keeps the input queue stocked so the loop never
// hits the dequeue timeout, then cancels and expects a prompt exit.
func TestRun_CancelWithBusyQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, brain.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				f.queue.Offer(event.NewInput(event.InputSensorPresence, true,
					event.WithSource("radar")))
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not observe cancellation while the queue was busy")
	}
	close(stop)
	wg.Wait()
}

// ─── TestRun_StartFailurePropagates ──────────────────────────────────────────

type failingAdapter struct{}

func (failingAdapter) Name() string                       { return "broken" }
func (failingAdapter) Start(context.Context) error        { return errors.New("no device") }
func (failingAdapter) Stop() error                        { return nil }
func (failingAdapter) HandleCommand(adapter.Command) bool { return false }

func TestRun_StartFailurePropagates(t *testing.T) {
	t.Parallel()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	queue := event.NewQueue(8)
	mgr := adapter.NewManager(queue, 4, discard())
	mgr.AddInput(failingAdapter{})
	session := brain.NewSession(&llmmock.Provider{}, "", 0, metrics)
	brn := brain.New(brain.Config{ArchivistInterval: time.Hour}, session, &state.Global{}, discard(), metrics)
	orch := New(queue, mgr, router.New(discard(), metrics), brn, discard(), metrics)

	if err := orch.Run(context.Background()); err == nil {
		t.Fatal("Run: expected start failure to propagate")
	}
}

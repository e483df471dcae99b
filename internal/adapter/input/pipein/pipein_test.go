package pipein

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

type fakePub struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *fakePub) Publish(ev event.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakePub) Interrupt(event.Event) bool { return false }

func (f *fakePub) published() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events...)
}

func newTestReader(t *testing.T) (*Reader, *fakePub, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pipe")
	pub := &fakePub{}
	a, err := New(map[string]any{"path": path}, adapter.Env{
		Log: slog.New(slog.DiscardHandler),
		Pub: pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a.(*Reader), pub, path
}

func waitEvents(t *testing.T, pub *fakePub, n int) []event.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if evs := pub.published(); len(evs) >= n {
			return evs
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d", n, len(pub.published()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReader_PublishesFrames(t *testing.T) {
	t.Parallel()

	r, pub, path := newTestReader(t)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	frames := `{"type":"user_speech","content":"ciao","priority":"HIGH","source":"cli"}
not json at all
{"type":"teleport","content":1}
{"type":"direct_output","content":{"event_type":"speak","content":"pronto","priority":"CRITICAL"}}
`
	if _, err := w.WriteString(frames); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The two malformed lines are dropped; the two good frames come through.
	evs := waitEvents(t, pub, 2)
	if len(evs) != 2 {
		t.Fatalf("events: %d", len(evs))
	}

	if evs[0].Input != event.InputUserSpeech || evs[0].Text() != "ciao" {
		t.Errorf("first event: %+v", evs[0])
	}
	if evs[0].Priority != event.PriorityHigh || evs[0].Source != "cli" {
		t.Errorf("first event priority/source: %+v", evs[0])
	}

	if evs[1].Input != event.InputDirectOutput {
		t.Fatalf("second event: %+v", evs[1])
	}
	inner, ok := evs[1].Content.(event.Event)
	if !ok || inner.Output != event.OutputSpeak || inner.Text() != "pronto" {
		t.Errorf("wrapped output: %+v", evs[1].Content)
	}
	if inner.Priority != event.PriorityCritical {
		t.Errorf("wrapped priority: %v", inner.Priority)
	}
}

func TestReader_StopJoins(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestReader(t)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doneCh := make(chan struct{})
	go func() {
		r.Stop()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(4 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestEnsureFIFO_RejectsRegularFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "collision")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureFIFO(path); err == nil {
		t.Fatal("regular file accepted as FIFO")
	}
}

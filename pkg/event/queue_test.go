package event

import (
	"sync"
	"testing"
	"time"
)

// ─── TestQueue_PriorityOrdering ──────────────────────────────────────────────

// TestQueue_PriorityOrdering verifies strict priority ordering: events
// enqueued LOW, CRITICAL, HIGH, NORMAL dequeue as CRITICAL, HIGH, NORMAL, LOW.
func TestQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()

	q := NewQueue(8)
	for _, p := range []Priority{PriorityLow, PriorityCritical, PriorityHigh, PriorityNormal} {
		if !q.Offer(NewInput(InputUserSpeech, p.String(), WithPriority(p))) {
			t.Fatalf("Offer(%v) returned false", p)
		}
	}

	want := []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
	for i, wp := range want {
		ev, ok := q.TryGet()
		if !ok {
			t.Fatalf("TryGet %d: queue unexpectedly empty", i)
		}
		if ev.Priority != wp {
			t.Errorf("dequeue %d: priority want %v, got %v", i, wp, ev.Priority)
		}
	}
}

// ─── TestQueue_FIFOWithinPriority ────────────────────────────────────────────

// TestQueue_FIFOWithinPriority verifies that equal-priority events dequeue in
// insertion order.
func TestQueue_FIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := NewQueue(16)
	for i := 0; i < 10; i++ {
		q.Offer(NewInput(InputUserSpeech, i))
	}
	for i := 0; i < 10; i++ {
		ev, ok := q.TryGet()
		if !ok {
			t.Fatalf("TryGet %d: empty", i)
		}
		if got := ev.Content.(int); got != i {
			t.Errorf("dequeue %d: want content %d, got %d", i, i, got)
		}
	}
}

// ─── TestQueue_Bounded ───────────────────────────────────────────────────────

func TestQueue_Bounded(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	if !q.Offer(NewInput(InputWakeword, nil)) || !q.Offer(NewInput(InputWakeword, nil)) {
		t.Fatal("Offer failed below capacity")
	}
	if q.Offer(NewInput(InputWakeword, nil)) {
		t.Error("Offer succeeded on a full queue")
	}
	if err := q.Put(NewInput(InputWakeword, nil), 20*time.Millisecond); err == nil {
		t.Error("Put on a full queue did not time out")
	}
}

// ─── TestQueue_GetTimeout ────────────────────────────────────────────────────

func TestQueue_GetTimeout(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	start := time.Now()
	if _, ok := q.Get(50 * time.Millisecond); ok {
		t.Fatal("Get on an empty queue returned an event")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Get returned after %v, want ≥ 40ms", elapsed)
	}
}

// ─── TestQueue_GetWakesOnPut ─────────────────────────────────────────────────

// TestQueue_GetWakesOnPut verifies that a blocked consumer observes an event
// enqueued while it waits.
func TestQueue_GetWakesOnPut(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		q.Offer(NewInput(InputWakeword, "late"))
	}()

	ev, ok := q.Get(2 * time.Second)
	if !ok {
		t.Fatal("Get timed out while a producer delivered")
	}
	if ev.Content != "late" {
		t.Errorf("Get content: want %q, got %v", "late", ev.Content)
	}
	wg.Wait()
}

// ─── TestQueue_Close ─────────────────────────────────────────────────────────

func TestQueue_Close(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	q.Offer(NewInput(InputWakeword, nil))
	q.Close()

	if q.Offer(NewInput(InputWakeword, nil)) {
		t.Error("Offer succeeded after Close")
	}
	if err := q.Put(NewInput(InputWakeword, nil), time.Second); err != ErrQueueClosed {
		t.Errorf("Put after Close: want ErrQueueClosed, got %v", err)
	}
	// Remainder stays readable.
	if _, ok := q.Get(time.Second); !ok {
		t.Error("Get after Close lost the buffered event")
	}
	if _, ok := q.Get(10 * time.Millisecond); ok {
		t.Error("Get on a closed drained queue returned an event")
	}
}

// ─── TestQueue_ConcurrentProducers ───────────────────────────────────────────

// TestQueue_ConcurrentProducers verifies the priority invariant holds under
// concurrent enqueue: for every consecutive dequeue pair, e1.Priority ≤
// e2.Priority once producers have finished.
func TestQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	const perProducer = 50
	q := NewQueue(4 * perProducer)

	var wg sync.WaitGroup
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Put(NewInput(InputUserSpeech, nil, WithPriority(p)), time.Second); err != nil {
					t.Errorf("Put(%v): %v", p, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	last := PriorityCritical
	for i := 0; i < 4*perProducer; i++ {
		ev, ok := q.TryGet()
		if !ok {
			t.Fatalf("TryGet %d: empty", i)
		}
		if ev.Priority < last {
			t.Fatalf("dequeue %d: priority %v after %v violates ordering", i, ev.Priority, last)
		}
		last = ev.Priority
	}
}

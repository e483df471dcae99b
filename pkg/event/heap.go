package event

// item wraps an Event with scheduling metadata for the priority queue. The
// seq field provides FIFO ordering within the same priority class.
type item struct {
	ev  Event
	seq uint64 // monotonic insertion order for FIFO tie-breaking
}

// eventHeap implements [container/heap.Interface] as a min-heap ordered by
// priority (ascending — lower numeric value is more urgent), with FIFO
// tie-breaking on seq.
type eventHeap []item

func (h eventHeap) Len() int { return len(h) }

// Less reports whether element i must be dequeued before element j.
func (h eventHeap) Less(i, j int) bool {
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority < h[j].ev.Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(item))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

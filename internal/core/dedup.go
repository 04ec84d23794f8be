package core

// IDWindow is a bounded FIFO set of transaction ids. Both loops use one:
// the poller to drop already-appended fills, the engine to absorb log
// replays across a checkpoint. When the window is full the oldest id is
// evicted, which keeps memory bounded over an unbounded log lifetime.
type IDWindow struct {
	capacity int
	order    []string
	index    map[string]struct{}
}

// NewIDWindow creates a window holding at most capacity ids. A capacity
// of zero or less disables bounding (the window grows without eviction).
func NewIDWindow(capacity int) *IDWindow {
	return &IDWindow{
		capacity: capacity,
		index:    make(map[string]struct{}),
	}
}

// Add inserts id and reports whether it was new. Adding a known id is a
// no-op that returns false.
func (w *IDWindow) Add(id string) bool {
	if _, ok := w.index[id]; ok {
		return false
	}
	w.order = append(w.order, id)
	w.index[id] = struct{}{}
	for w.capacity > 0 && len(w.order) > w.capacity {
		evicted := w.order[0]
		w.order = w.order[1:]
		delete(w.index, evicted)
	}
	return true
}

// Contains reports whether id is inside the window.
func (w *IDWindow) Contains(id string) bool {
	_, ok := w.index[id]
	return ok
}

// Len returns the number of ids currently held.
func (w *IDWindow) Len() int {
	return len(w.order)
}

// IDs returns the held ids oldest first, for persisting into a snapshot.
func (w *IDWindow) IDs() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

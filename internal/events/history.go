package events

import "sync"

// DefaultHistorySize is the number of events the bus retains when no size is configured.
const DefaultHistorySize = 1000

// History is a fixed-size ring of the most recently published events.
type History struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

// NewHistory creates a history retaining up to size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Event, size)}
}

// Add records an event, evicting the oldest when full.
func (h *History) Add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lenLocked()
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Recent returns up to n of the newest events, oldest first.
func (h *History) Recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.lenLocked()
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	start := (h.next - n + len(h.buf)) % len(h.buf)
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

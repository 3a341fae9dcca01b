package bus

import (
	"sync"

	"github.com/conneroisu/wasmscope/internal/types"
)

// history keeps the last n published events in a ring.
type history struct {
	mu     sync.Mutex
	events []types.ChangeEvent
	next   int
	full   bool
}

func newHistory(n int) *history {
	if n <= 0 {
		return nil
	}
	return &history{events: make([]types.ChangeEvent, n)}
}

func (h *history) add(ev types.ChangeEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = ev
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// last returns up to limit of the newest events, oldest first. A limit of
// zero or less returns everything kept.
func (h *history) last(limit int) []types.ChangeEvent {
	if h == nil {
		return []types.ChangeEvent{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]types.ChangeEvent, 0, limit)
	start := h.next - limit
	if start < 0 {
		start += len(h.events)
	}
	for i := 0; i < limit; i++ {
		out = append(out, h.events[(start+i)%len(h.events)])
	}
	return out
}

package exposure

import "sync"

// History is a bounded ring of previously emitted settings for one session.
// Only consulted when smoothing is configured for the schedule. Safe for
// concurrent use: the capture fan-out resolves settings on one goroutine per
// node while all nodes of a schedule share the session's history.
type History struct {
	mu      sync.Mutex
	entries []Settings
	max     int
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 8
	}
	return &History{max: max}
}

func (h *History) Push(s Settings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, s)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

func (h *History) Last() (Settings, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return Settings{}, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

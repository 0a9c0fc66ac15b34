package station

// HistoryEntry summarizes one analyzed record.
type HistoryEntry struct {
	StartMs  int64
	EndMs    int64
	State    State
	MaxRatio float64
}

// history is a fixed-capacity ring of the most recent record summaries.
type history struct {
	data []HistoryEntry
	pos  int
	full bool
	cap  int
}

func newHistory(cap int) *history {
	return &history{
		data: make([]HistoryEntry, cap),
		cap:  cap,
	}
}

func (h *history) push(e HistoryEntry) {
	h.data[h.pos] = e
	h.pos++
	if h.pos >= h.cap {
		h.pos = 0
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return h.cap
	}
	return h.pos
}

// slice returns the entries oldest first.
func (h *history) slice() []HistoryEntry {
	n := h.len()
	out := make([]HistoryEntry, n)
	if h.full {
		copy(out, h.data[h.pos:])
		copy(out[h.cap-h.pos:], h.data[:h.pos])
	} else {
		copy(out, h.data[:h.pos])
	}
	return out
}

// at finds the entry covering t, allowing tolerance ms after a record's end.
func (h *history) at(t, tolerance int64) (HistoryEntry, bool) {
	n := h.len()
	for i := 1; i <= n; i++ {
		idx := (h.pos - i + h.cap) % h.cap
		e := h.data[idx]
		if t >= e.StartMs && t <= e.EndMs+tolerance {
			return e, true
		}
		if e.EndMs+tolerance < t {
			return HistoryEntry{}, false
		}
	}
	return HistoryEntry{}, false
}

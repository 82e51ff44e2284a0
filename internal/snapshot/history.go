package snapshot

import (
	"sort"

	"cryptodash/models"
)

// history is a fixed-capacity ring of snapshots ordered by cycle. Appending
// past capacity overwrites the oldest entry.
type history struct {
	buf   []models.Snapshot
	start int
	cap   int
}

func newHistory(capacity int) *history {
	initial := capacity
	if initial > 64 {
		initial = 64
	}
	return &history{buf: make([]models.Snapshot, 0, initial), cap: capacity}
}

func (h *history) len() int { return len(h.buf) }

// at returns the i-th oldest snapshot.
func (h *history) at(i int) models.Snapshot {
	return h.buf[(h.start+i)%len(h.buf)]
}

func (h *history) push(s models.Snapshot) (evicted bool) {
	if len(h.buf) < h.cap {
		h.buf = append(h.buf, s)
		return false
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
	return true
}

func (h *history) last() models.Snapshot {
	return h.at(len(h.buf) - 1)
}

// closest returns the snapshot whose cycle is nearest to target. When two
// snapshots are equally near, the older one wins.
func (h *history) closest(target int64) (models.Snapshot, int64) {
	n := len(h.buf)
	idx := sort.Search(n, func(i int) bool { return h.at(i).Cycle >= target })

	var best models.Snapshot
	bestDist := int64(-1)
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= n {
			continue
		}
		s := h.at(i)
		d := s.Cycle - target
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, bestDist
}

// tail returns copies of the newest n snapshots, oldest first.
func (h *history) tail(n int) []models.Snapshot {
	if n > len(h.buf) {
		n = len(h.buf)
	}
	out := make([]models.Snapshot, n)
	offset := len(h.buf) - n
	for i := 0; i < n; i++ {
		out[i] = h.at(offset + i)
	}
	return out
}

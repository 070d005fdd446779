// Package history keeps the most recent emitted transactions in a fixed size ring.
package history

import (
	"sync"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

// DefaultCapacity of a history.
const DefaultCapacity = 100

// History is a ring of the last Cap transactions. It is safe for concurrent use.
type History struct {
	l   sync.Mutex
	buf []*model.EnrichedTransaction // ring storage
	i   int                          // index of the newest entry in buf
	n   int                          // entries in use
}

// New returns an empty history holding up to capacity transactions; capacity < 1 takes the default.
func New(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &History{buf: make([]*model.EnrichedTransaction, capacity), i: capacity - 1}
}

// Push adds tx as the newest entry, evicting the oldest one when full.
func (h *History) Push(tx *model.EnrichedTransaction) {
	h.l.Lock()
	defer h.l.Unlock()

	h.i++
	h.i %= len(h.buf)
	h.buf[h.i] = tx

	if h.n < len(h.buf) {
		h.n++
	}
}

// List returns up to limit entries, most recent first. limit <= 0 returns all of them.
func (h *History) List(limit int) []*model.EnrichedTransaction {
	h.l.Lock()
	defer h.l.Unlock()

	if limit <= 0 || limit > h.n {
		limit = h.n
	}

	out := make([]*model.EnrichedTransaction, 0, limit)

	for k := 0; k < limit; k++ {
		j := (h.i - k + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[j])
	}

	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.l.Lock()
	defer h.l.Unlock()

	return h.n
}

// Cap returns the capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Clear drops every entry.
func (h *History) Clear() {
	h.l.Lock()
	defer h.l.Unlock()

	for k := range h.buf {
		h.buf[k] = nil
	}

	h.i = len(h.buf) - 1
	h.n = 0
}

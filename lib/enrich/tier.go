package enrich

import "time"

type entry[T any] struct {
	v  T
	at time.Time
}

// tier is one TTL bound map. The cache lock guards it.
type tier[T any] struct {
	ttl   time.Duration
	items map[string]entry[T]
}

func newTier[T any](ttl time.Duration) *tier[T] {
	return &tier[T]{ttl: ttl, items: make(map[string]entry[T])}
}

func (t *tier[T]) expired(e entry[T], now time.Time) bool {
	return now.Sub(e.at) >= t.ttl
}

// get returns the live value for id, dropping it when expired.
func (t *tier[T]) get(id string, now time.Time) (T, bool) {
	e, ok := t.items[id]
	if !ok {
		var zero T
		return zero, false
	}

	if t.expired(e, now) {
		delete(t.items, id)

		var zero T
		return zero, false
	}

	return e.v, true
}

func (t *tier[T]) put(id string, v T, now time.Time) {
	t.items[id] = entry[T]{v: v, at: now}
}

func (t *tier[T]) sweep(now time.Time) int {
	n := 0

	for id, e := range t.items {
		if t.expired(e, now) {
			delete(t.items, id)
			n++
		}
	}

	return n
}

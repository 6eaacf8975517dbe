package feed

import (
	"sync"
	"time"
)

// dedupe remembers signal ids for a TTL so a re-served feed page cannot
// trigger the same trade twice.
type dedupe struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newDedupe(ttl time.Duration) *dedupe {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &dedupe{ttl: ttl, seen: make(map[string]time.Time)}
}

// Seen marks id and reports whether it was already live.
func (d *dedupe) Seen(id string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return true
	}
	d.seen[id] = now.Add(d.ttl)
	d.sweep(now)
	return false
}

func (d *dedupe) sweep(now time.Time) {
	if len(d.seen) < 1024 {
		return
	}
	for id, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, id)
		}
	}
}

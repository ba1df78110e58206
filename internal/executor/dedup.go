package executor

import (
	"sync"
	"time"
)

// Dedup remembers recently executed payloads for a time-to-live window. It is
// safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // payload key -> execution time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether key was marked within the TTL window. Expired entries
// are dropped as a side effect.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	_, ok := d.seen[key]
	return ok
}

// Mark records key as executed now.
func (d *Dedup) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = d.now()
}

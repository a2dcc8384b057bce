package utils

import (
	"sync"
	"time"
)

// Deduplicator remembers recently seen keys for a fixed window.
type Deduplicator struct {
	window  time.Duration
	maxSize int
	mu      sync.Mutex
	seen    map[string]time.Time
}

func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{window: window, maxSize: 10000, seen: make(map[string]time.Time)}
}

// IsDuplicate checks if a key has been seen within the window.
// Returns true if it is a duplicate and should be ignored
func (d *Deduplicator) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if ts, ok := d.seen[key]; ok && now.Sub(ts) < d.window {
		return true
	}
	d.seen[key] = now

	// Cleanup old entries if map gets too big
	if len(d.seen) > d.maxSize {
		for k, v := range d.seen {
			if now.Sub(v) > 2*d.window {
				delete(d.seen, k)
			}
		}
	}
	return false
}

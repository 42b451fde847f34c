package store

import (
	"sync"
	"time"
)

// DedupCache records processed message ids for a bounded window so retried
// callbacks and overlapping sync pages cannot double-dispatch a message.
// Entries are pruned lazily when the cache is consulted; there is no
// background timer.
type DedupCache struct {
	entries map[string]time.Time
	ttl     time.Duration
	mu      sync.Mutex
	now     func() time.Time

	lastPrune     time.Time
	pruneInterval time.Duration
}

// NewDedupCache creates a dedup cache. ttl defaults to 10 minutes.
func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DedupCache{
		entries:       make(map[string]time.Time),
		ttl:           ttl,
		now:           time.Now,
		pruneInterval: time.Minute,
	}
}

// Seen reports whether msgID was recorded within the TTL window, recording
// it on first sight.
func (d *DedupCache) Seen(msgID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	if firstSeen, ok := d.entries[msgID]; ok && now.Sub(firstSeen) < d.ttl {
		return true
	}
	d.entries[msgID] = now
	return false
}

func (d *DedupCache) pruneLocked(now time.Time) {
	if now.Sub(d.lastPrune) < d.pruneInterval {
		return
	}
	d.lastPrune = now
	for id, firstSeen := range d.entries {
		if now.Sub(firstSeen) >= d.ttl {
			delete(d.entries, id)
		}
	}
}

// Size returns the number of recorded ids, including any not yet pruned.
func (d *DedupCache) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

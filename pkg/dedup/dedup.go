// Package dedup provides the duplicate suppression cache used by the
// mesh router. Flooding delivers each message along every available
// path, so the first copy wins and every later copy is dropped here.
package dedup

import (
	"sync"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

const (
	// DefaultCapacity bounds the number of remembered messages.
	DefaultCapacity = 100

	// DefaultTTL bounds how long an entry is remembered.
	DefaultTTL = 5 * time.Minute
)

// Key identifies a message for duplicate detection. The sender is part
// of the key so two devices reusing the same message ID do not mask
// each other.
type Key struct {
	MessageID string
	SenderID  string
}

// KeyOf returns the dedup key for a message.
func KeyOf(m *wire.Message) Key {
	return Key{MessageID: m.ID, SenderID: m.SenderID}
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries         int
	Inserts         uint64
	Duplicates      uint64
	EvictedCapacity uint64
	EvictedExpired  uint64
}

// Cache remembers recently seen messages, bounded by both capacity and
// entry age. Both bounds are always active: a full cache evicts its
// oldest entry, and expired entries are purged on every access.
//
// An entry evicted for either reason is forgotten completely. A copy of
// that message arriving later is treated as new; TTL hop budgets keep
// the resulting re-flood finite.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[Key]time.Time
	order    []Key

	inserts         uint64
	duplicates      uint64
	evictedCapacity uint64
	evictedExpired  uint64

	now func() time.Time
}

// NewCache creates a cache with the given bounds. Non-positive values
// fall back to the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[Key]time.Time, capacity),
		order:    make([]Key, 0, capacity),
		now:      time.Now,
	}
}

// Insert records the message and reports whether it was new. A false
// return means the message is a duplicate and must not be delivered or
// forwarded again.
func (c *Cache) Insert(m *wire.Message) bool {
	key := KeyOf(m)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpired(now)

	if _, ok := c.entries[key]; ok {
		c.duplicates++
		return false
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = now
	c.order = append(c.order, key)
	c.inserts++
	return true
}

// Contains reports whether the message is currently remembered,
// without recording it.
func (c *Cache) Contains(m *wire.Message) bool {
	key := KeyOf(m)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired(c.now())
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired(c.now())
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired(c.now())
	return Stats{
		Entries:         len(c.entries),
		Inserts:         c.inserts,
		Duplicates:      c.duplicates,
		EvictedCapacity: c.evictedCapacity,
		EvictedExpired:  c.evictedExpired,
	}
}

// purgeExpired drops entries older than the TTL. Insertion order means
// the scan can stop at the first live entry.
func (c *Cache) purgeExpired(now time.Time) {
	cutoff := now.Add(-c.ttl)
	i := 0
	for ; i < len(c.order); i++ {
		added, ok := c.entries[c.order[i]]
		if !ok {
			continue
		}
		if added.After(cutoff) {
			break
		}
		delete(c.entries, c.order[i])
		c.evictedExpired++
	}
	if i > 0 {
		c.order = c.order[i:]
	}
}

// evictOldest removes the oldest live entry to make room.
func (c *Cache) evictOldest() {
	for len(c.order) > 0 {
		key := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			c.evictedCapacity++
			return
		}
	}
}

// Package cache provides a bounded LRU cache with per-entry TTL, sitting in
// front of the record store's authoritative snapshot. It never talks to
// durable storage itself; the store populates it on misses and invalidates it
// on writes.
package cache

import (
	"container/list"
	"sync"
	"time"

	"clinica/backend/internal/domain"
)

type entry struct {
	key        string
	appt       domain.Appointment
	negative   bool
	insertedAt time.Time
	lastAccess time.Time
	expiresAt  time.Time
}

// Stats are cumulative counters since construction.
type Stats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List // front = most recently used
	items    map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

func New(capacity int, ttl time.Duration) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the cached appointment for key. negative is true when the key
// is cached as known-absent. An expired entry counts as a miss and is evicted
// on the spot.
func (c *Cache) Get(key string) (appt domain.Appointment, negative, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		c.misses++
		return domain.Appointment{}, false, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(el)
		c.misses++
		return domain.Appointment{}, false, false
	}
	e.lastAccess = c.now()
	c.ll.MoveToFront(el)
	c.hits++
	return e.appt, e.negative, true
}

// Put inserts or refreshes an entry with expiry now+TTL, evicting the
// least-recently-used live entry when at capacity.
func (c *Cache) Put(key string, appt domain.Appointment) {
	c.put(key, appt, false)
}

// PutNegative caches the fact that key does not exist, so repeated lookups
// of unknown identifiers do not hammer the snapshot.
func (c *Cache) PutNegative(key string) {
	c.put(key, domain.Appointment{}, true)
}

func (c *Cache) put(key string, appt domain.Appointment, negative bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, found := c.items[key]; found {
		e := el.Value.(*entry)
		e.appt = appt
		e.negative = negative
		e.lastAccess = now
		e.expiresAt = now.Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		c.evictLRU()
	}

	el := c.ll.PushFront(&entry{
		key:        key,
		appt:       appt,
		negative:   negative,
		insertedAt: now,
		lastAccess: now,
		expiresAt:  now.Add(c.ttl),
	})
	c.items[key] = el
}

// Invalidate removes key so stale data is never served after a write.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.items[key]; found {
		c.remove(el)
	}
}

// Sweep drops every expired entry and returns how many were removed. Called
// periodically by background maintenance to bound memory for cold keys.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []*list.Element
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		if !now.Before(el.Value.(*entry).expiresAt) {
			expired = append(expired, el)
		}
	}
	for _, el := range expired {
		c.remove(el)
	}
	return len(expired)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:      c.ll.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// evictLRU removes the least-recently-used entry. Expired entries are
// preferred victims; among candidates with identical last-access times the
// one with the earliest insertion timestamp loses.
func (c *Cache) evictLRU() {
	victim := c.ll.Back()
	if victim == nil {
		return
	}

	now := c.now()
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		if !now.Before(el.Value.(*entry).expiresAt) {
			victim = el
			break
		}
	}

	ve := victim.Value.(*entry)
	for el := victim.Prev(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if !e.lastAccess.Equal(ve.lastAccess) {
			break
		}
		if e.insertedAt.Before(ve.insertedAt) {
			victim = el
			ve = e
		}
	}

	c.remove(victim)
	c.evictions++
}

func (c *Cache) remove(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
}

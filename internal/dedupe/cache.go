// Package dedupe remembers recently seen webhook deliveries so platform redeliveries are
// submitted only once.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache is a TTL and size bounded set of keys. Oldest keys are evicted first.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a cache and starts a janitor that drops expired keys every sweep interval.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.janitor(min(ttl, time.Minute))
	return c
}

// Seen reports whether key was marked within the TTL, and marks it otherwise.
// The check and the mark happen under one lock.
func (c *Cache) Seen(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(elem)
		return false
	}
	if len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.items[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Forget unmarks key so its next delivery is accepted again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.items, front.Value.(*entry).key)
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		e := elem.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			// Entries refreshed by Seen move to the back, so the front is the oldest.
			return
		}
		next := elem.Next()
		c.order.Remove(elem)
		delete(c.items, e.key)
		elem = next
	}
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the janitor. It is safe to call multiple times.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

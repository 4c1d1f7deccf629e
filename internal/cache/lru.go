// internal/cache/lru.go
//
// Small LRU cache with per-entry expiry.  The bot uses it to drop Telegram
// updates it has already handled within the last seconds (double taps,
// client retries).  No external deps; good for a few thousand entries.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a least-recently-used cache whose entries also expire after ttl.
// It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	now  func() time.Time
	ll   *list.List
	dict map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

// New returns an LRU with the given capacity and ttl.  ttl <= 0 disables
// expiry.  Panics on capacity < 1.
func New[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be ≥1")
	}
	return &LRU[K, V]{
		cap:  capacity,
		ttl:  ttl,
		now:  time.Now,
		ll:   list.New(),
		dict: make(map[K]*list.Element, capacity),
	}
}

func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && !c.now().Before(e.expires)
}

// Get retrieves a live value and marks it MRU.
func (c *LRU[K, V]) Get(key K) (val V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, hit := c.dict[key]
	if !hit {
		return val, false
	}
	e := ele.Value.(*entry[K, V])
	if c.expired(e) {
		c.remove(ele)
		return val, false
	}
	c.ll.MoveToFront(ele)
	return e.val, true
}

// Add inserts or updates a value and restarts its ttl.
func (c *LRU[K, V]) Add(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(key, val)
}

func (c *LRU[K, V]) add(key K, val V) {
	exp := c.now().Add(c.ttl)
	if ele, hit := c.dict[key]; hit {
		e := ele.Value.(*entry[K, V])
		e.val, e.expires = val, exp
		c.ll.MoveToFront(ele)
		return
	}
	ele := c.ll.PushFront(&entry[K, V]{key: key, val: val, expires: exp})
	c.dict[key] = ele
	if c.ll.Len() > c.cap {
		c.remove(c.ll.Back())
	}
}

// Seen reports whether key is live, and records it when it is not.  It is
// the check-and-set used for de-duplication.
func (c *LRU[K, V]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.dict[key]; hit && !c.expired(ele.Value.(*entry[K, V])) {
		return true
	}
	var zero V
	c.add(key, zero)
	return false
}

func (c *LRU[K, V]) remove(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.dict, ele.Value.(*entry[K, V]).key)
}

// Len reports current size, expired entries included until touched.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

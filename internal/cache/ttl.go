// Package cache holds the injectable TTL cache used for derived data such as
// knowledge-retrieval results. Each service instance owns its cache.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bryanwahyu/designlens/internal/application"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a threadsafe LRU cache with a fixed per-entry TTL and an injected clock.
type TTL[K comparable, V any] struct {
	lru   *lru.Cache[K, entry[V]]
	ttl   time.Duration
	clock application.Clock
}

// NewTTL creates a cache holding at most maxEntries items for ttl each.
// A nil clock uses the system clock.
func NewTTL[K comparable, V any](maxEntries int, ttl time.Duration, clock application.Clock) (*TTL[K, V], error) {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	inner, err := lru.New[K, entry[V]](maxEntries)
	if err != nil {
		return nil, err
	}
	return &TTL[K, V]{lru: inner, ttl: ttl, clock: clock}, nil
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	ent, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(ent.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return ent.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	if c == nil {
		return
	}
	c.lru.Add(key, entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)})
}

// Invalidate drops one key.
func (c *TTL[K, V]) Invalidate(key K) {
	if c == nil {
		return
	}
	c.lru.Remove(key)
}

// InvalidateAll drops every entry.
func (c *TTL[K, V]) InvalidateAll() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *TTL[K, V]) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

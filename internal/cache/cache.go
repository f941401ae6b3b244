// Package cache is a small in-process TTL cache. It backs short-lived
// single-node state like pending OAuth state values; anything that must
// survive a restart or be shared between replicas belongs in redis instead.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	val       V
	expiresAt time.Time
}

type Cache[V any] struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry[V]
}

func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache[V]{
		ttl: ttl,
		m:   make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]

	if !ok {
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		delete(c.m, key)

		var zero V
		return zero, false
	}

	return e.val, true
}

func (c *Cache[V]) Set(key string, val V) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// piggyback expiry sweeps on writes; abandoned entries (states the user
	// never came back with) would otherwise accumulate forever
	for k, e := range c.m {
		if now.After(e.expiresAt) {
			delete(c.m, k)
		}
	}

	c.m[key] = entry[V]{val: val, expiresAt: now.Add(c.ttl)}
}

// Take returns and removes the value in one step, so a key can be redeemed
// at most once.
func (c *Cache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]

	if !ok || time.Now().After(e.expiresAt) {
		delete(c.m, key)

		var zero V
		return zero, false
	}

	delete(c.m, key)
	return e.val, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.m)
}

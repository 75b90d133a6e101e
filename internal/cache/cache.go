// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package cache implements a small TTL-keyed store used by the
// reconciler to track per-PVC alert streaks and post-resize debounce
// flags across ticks. Expiry is lazy: entries are only evicted when
// looked up after their TTL has elapsed. No background sweeping goroutine
// runs, matching the bounded cardinality (one entry per claim, tens to
// low hundreds of claims) this cache is used for.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      any
	expiration time.Time
}

// Cache is a TTL-keyed store safe for concurrent use. The zero value is
// not usable; construct with New.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a Cache whose entries expire defaultTTL after being set,
// unless a per-call TTL is given to Set.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Set stores value under key with the cache's default TTL. Pass a
// positive ttl to override it for this entry.
func (c *Cache) Set(key string, value any, ttl ...time.Duration) {
	effective := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		effective = ttl[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		value:      value,
		expiration: c.now().Add(effective),
	}
}

// Get returns the value stored under key and true, or (nil, false) if
// the key is absent or its TTL has elapsed. An expired entry is deleted
// as a side effect of the lookup.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiration) || c.now().Equal(e.expiration) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// GetInt is a convenience accessor for the alert-streak counters, which
// are always stored as int. Returns 0 if the key is absent or expired.
func (c *Cache) GetInt(key string) int {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// Unset removes key unconditionally.
func (c *Cache) Unset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset removes every entry from the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

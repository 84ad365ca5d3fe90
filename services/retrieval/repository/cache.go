// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repository

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a thread-safe bounded cache.
//
// Description:
//
//	Recency-ordered via container/list (front = most recent). Eviction
//	removes the least recently used entry, except when the two coldest
//	entries were last touched at the same instant: then the one with
//	fewer lifetime accesses goes first. The tiebreak matters for burst
//	loads where a whole source's fragments arrive in one batch.
//
// Thread Safety: All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	order    *list.List // Front = most recent, Back = least recent
	onEvict  func(K, V)

	// Stats (atomic for lock-free reads)
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// cacheEntry holds the key-value pair plus access bookkeeping.
type cacheEntry[K comparable, V any] struct {
	key         K
	value       V
	accessCount int64
	lastAccess  time.Time
}

// CacheStats is a snapshot of cache effectiveness counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
	Capacity  int
}

// NewCache creates a bounded cache with the given capacity.
// Non-positive capacities fall back to a default of 100.
func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// OnEvict registers a callback invoked when capacity pressure evicts
// an entry. The callback runs with the cache lock held and must not
// call back into the cache.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get retrieves a value and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry[K, V])
		entry.accessCount++
		entry.lastAccess = time.Now()
		c.hits.Add(1)
		return entry.value, true
	}

	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set adds or updates a value. Inserting into a full cache evicts one
// entry first.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry[K, V])
		entry.value = value
		entry.lastAccess = now
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictColdest()
	}

	entry := &cacheEntry[K, V]{key: key, value: value, lastAccess: now}
	c.items[key] = c.order.PushFront(entry)
}

// Peek returns a value without promoting it or touching the counters.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*cacheEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Delete removes a key. Returns true if the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		return true
	}
	return false
}

// Purge clears all entries and resets the counters.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
		Capacity:  c.capacity,
	}
}

// evictColdest removes the eviction candidate from the back of the
// recency list. Caller must hold the lock.
func (c *Cache[K, V]) evictColdest() {
	victim := c.order.Back()
	if victim == nil {
		return
	}

	// Same-instant tiebreak: prefer the entry with fewer accesses.
	if prev := victim.Prev(); prev != nil {
		ve := victim.Value.(*cacheEntry[K, V])
		pe := prev.Value.(*cacheEntry[K, V])
		if pe.lastAccess.Equal(ve.lastAccess) && pe.accessCount < ve.accessCount {
			victim = prev
		}
	}

	entry := victim.Value.(*cacheEntry[K, V])
	c.removeElement(victim)
	c.evictions.Add(1)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}

// removeElement removes an element from both the list and map.
// Caller must hold the lock.
func (c *Cache[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry[K, V])
	delete(c.items, entry.key)
}

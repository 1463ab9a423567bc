// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache holds per-tree simulation-result caches and the
// manager that owns their lifecycle and invalidation policy.
//
// A cache entry, when present, is the correct result for the node's
// current parameters and current descendant parameters: staleness is
// prevented by eager invalidation on change, never by checks on read.
// The cache itself needs no transactional semantics: results are pure
// functions of current parameters, so racing writers either agree or
// are both acceptable replacements after an invalidation.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
)

// ResultCache is the per-tree NodeID -> SimulationResult store.
//
// # Thread Safety
//
// Safe for concurrent use. Get takes a read lock; Put, Remove,
// RemoveAll, and Clear take the write lock. RemoveAll is a single
// observable state transition: no reader sees a partially evicted
// ancestor path.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[id.NodeID]*risk.Result

	// Stats
	hits      int64
	misses    int64
	evictions int64
}

// NewResultCache creates an empty per-tree result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[id.NodeID]*risk.Result)}
}

// Get returns the cached result for nodeID, or false. Pure lookup;
// never blocks on computation.
func (c *ResultCache) Get(nodeID id.NodeID) (*risk.Result, bool) {
	c.mu.RLock()
	result, ok := c.entries[nodeID]
	c.mu.RUnlock()

	if ok {
		atomic.AddInt64(&c.hits, 1)
		recordCacheHit()
		return result, true
	}
	atomic.AddInt64(&c.misses, 1)
	recordCacheMiss()
	return nil, false
}

// Put stores a result, overwriting unconditionally. Last-writer-wins
// is sound here: writers for the same key either computed the same
// deterministic value or are racing after an invalidation, in which
// case either fresh value is acceptable.
func (c *ResultCache) Put(nodeID id.NodeID, result *risk.Result) {
	c.mu.Lock()
	c.entries[nodeID] = result
	c.mu.Unlock()
}

// Remove evicts nodeID. Removing an absent key is a no-op.
func (c *ResultCache) Remove(nodeID id.NodeID) {
	c.mu.Lock()
	if _, ok := c.entries[nodeID]; ok {
		delete(c.entries, nodeID)
		atomic.AddInt64(&c.evictions, 1)
		recordCacheEviction(1)
	}
	c.mu.Unlock()
}

// RemoveAll evicts every id in nodeIDs under one lock acquisition.
func (c *ResultCache) RemoveAll(nodeIDs []id.NodeID) {
	c.mu.Lock()
	var evicted int64
	for _, nodeID := range nodeIDs {
		if _, ok := c.entries[nodeID]; ok {
			delete(c.entries, nodeID)
			evicted++
		}
	}
	atomic.AddInt64(&c.evictions, evicted)
	recordCacheEviction(evicted)
	c.mu.Unlock()
}

// Clear evicts everything, returning the number of evicted entries.
func (c *ResultCache) Clear() int {
	c.mu.Lock()
	evicted := len(c.entries)
	c.entries = make(map[id.NodeID]*risk.Result)
	atomic.AddInt64(&c.evictions, int64(evicted))
	recordCacheEviction(int64(evicted))
	c.mu.Unlock()
	return evicted
}

// Size returns the number of cached results.
func (c *ResultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Contains reports whether nodeID has a cached result, without
// touching hit/miss accounting.
func (c *ResultCache) Contains(nodeID id.NodeID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[nodeID]
	return ok
}

// NodeIDs lists the cached node ids in no particular order.
// Diagnostics only.
func (c *ResultCache) NodeIDs() []id.NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]id.NodeID, 0, len(c.entries))
	for nodeID := range c.entries {
		ids = append(ids, nodeID)
	}
	return ids
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Stats returns current cache statistics.
func (c *ResultCache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Entries:   entries,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

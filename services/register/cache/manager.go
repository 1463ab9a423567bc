// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/risquanter/register/pkg/logging"
	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
	"github.com/risquanter/register/services/register/tree"
)

// ErrTreeNotFound indicates no index has ever been built for a tree.
var ErrTreeNotFound = errors.New("tree not found")

// DefaultTrialCount is used for snapshots that do not set their own.
const DefaultTrialCount = 10_000

// Manager owns the 1:1 association of tree id to (index, cache) and
// the invalidation policy.
//
// # Invalidation Policy
//
// A parameter change on a leaf can only affect the leaf and its
// ancestors (aggregation is strictly bottom-up and depends only on
// descendant values), so OnLeafParametersChanged evicts exactly the
// ancestor path, O(depth), leaving sibling subtrees' cached results
// untouched. A structural change can alter which nodes are ancestors
// of which, so OnStructureChanged rebuilds the index and clears the
// whole cache. Diffing old against new structure to narrow that is a
// possible future optimization, not implemented here.
//
// # Thread Safety
//
// Safe for concurrent use. The index pointer for a tree is swapped
// atomically under the manager lock; a built Index is immutable, so
// resolvers holding an old reference keep reading a consistent
// structure.
type Manager struct {
	mu    sync.RWMutex
	trees map[id.TreeID]*treeState

	limits            tree.Limits
	defaultTrialCount int
	logger            *logging.Logger
}

// treeState is everything the manager tracks for one tree.
type treeState struct {
	cache *ResultCache
	index *tree.Index

	// generation is the tree's version token, bumped on every
	// invalidation. Resolvers tag in-flight computations with it and
	// discard results whose token is stale by completion time.
	generation atomic.Uint64
}

// ManagerOption is a functional option for configuring Manager.
type ManagerOption func(*Manager)

// WithLimits sets the structural limits enforced on index builds.
func WithLimits(limits tree.Limits) ManagerOption {
	return func(m *Manager) { m.limits = limits }
}

// WithDefaultTrialCount overrides the trial count applied to
// snapshots that do not carry one.
func WithDefaultTrialCount(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.defaultTrialCount = n
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager with the given options.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		trees:             make(map[id.TreeID]*treeState),
		defaultTrialCount: DefaultTrialCount,
		logger:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// stateFor returns (creating if absent) the state for treeID.
func (m *Manager) stateFor(treeID id.TreeID) *treeState {
	m.mu.RLock()
	state, ok := m.trees[treeID]
	m.mu.RUnlock()
	if ok {
		return state
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok = m.trees[treeID]; ok {
		return state
	}
	state = &treeState{cache: NewResultCache()}
	m.trees[treeID] = state
	activeTrees.Inc()
	return state
}

// CacheFor returns the result cache for treeID, creating an empty one
// for a tree the manager has not seen yet. Lazy creation is not an
// error: any tree the resolver knows about must have an addressable
// cache.
func (m *Manager) CacheFor(treeID id.TreeID) *ResultCache {
	return m.stateFor(treeID).cache
}

// IndexFor returns the current index for treeID. Unlike the cache, an
// index must have been built explicitly via OnStructureChanged; a tree
// without one is ErrTreeNotFound.
func (m *Manager) IndexFor(treeID id.TreeID) (*tree.Index, error) {
	m.mu.RLock()
	state, ok := m.trees[treeID]
	m.mu.RUnlock()
	if !ok || state.index == nil {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	return state.index, nil
}

// Generation returns the tree's current version token (0 for an
// unknown tree).
func (m *Manager) Generation(treeID id.TreeID) uint64 {
	m.mu.RLock()
	state, ok := m.trees[treeID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return state.generation.Load()
}

// OnStructureChanged installs a new tree version: it builds an index
// from the snapshot, swaps it in, clears the whole cache, and bumps
// the generation.
//
// If the snapshot is malformed nothing changes: the previous index and
// cache stay live so existing resolvers keep working against the last
// known-good structure until a corrected snapshot arrives.
func (m *Manager) OnStructureChanged(treeID id.TreeID, snapshot *tree.Snapshot) (*tree.Index, error) {
	snap := *snapshot
	snap.TreeID = treeID
	if snap.TrialCount == 0 {
		snap.TrialCount = m.defaultTrialCount
	}

	// Build before touching any shared state.
	index, err := tree.BuildIndex(&snap, m.limits)
	if err != nil {
		m.logger.Error("rejecting malformed tree snapshot",
			"tree_id", treeID, "error", err)
		return nil, err
	}

	state := m.stateFor(treeID)
	m.mu.Lock()
	state.index = index
	m.mu.Unlock()
	state.generation.Add(1)
	evicted := state.cache.Clear()

	recordFullInvalidation()
	m.logger.Info("tree structure changed",
		"tree_id", treeID, "nodes", index.Len(), "evicted", evicted)
	return index, nil
}

// OnLeafParametersChanged evicts the changed node and all of its
// ancestors, the O(depth) fast path for the common edit. The index is
// not rebuilt since the structure is unchanged. Returns the evicted path in
// leaf-to-root order.
func (m *Manager) OnLeafParametersChanged(treeID id.TreeID, nodeID id.NodeID) ([]id.NodeID, error) {
	index, err := m.IndexFor(treeID)
	if err != nil {
		return nil, err
	}
	path, err := index.AncestorPath(nodeID)
	if err != nil {
		return nil, err
	}

	state := m.stateFor(treeID)
	state.generation.Add(1)
	state.cache.RemoveAll(path)

	recordPathInvalidation(len(path))
	m.logger.Info("leaf parameters changed",
		"tree_id", treeID, "node_id", nodeID, "evicted_path_len", len(path))
	return path, nil
}

// UpdateLeafParameters installs a leaf's new simulation parameters via
// a copy-on-write index swap, then evicts the leaf's ancestor path.
// Concurrent resolvers see either the old index or the new one, never
// a partial update. The shape of the tree must be unchanged; a leaf
// that moved or changed variant is a structural change and is rejected
// with ErrMalformedTree.
func (m *Manager) UpdateLeafParameters(treeID id.TreeID, leaf *risk.Leaf) ([]id.NodeID, error) {
	index, err := m.IndexFor(treeID)
	if err != nil {
		return nil, err
	}
	updated, err := index.WithUpdatedNode(leaf)
	if err != nil {
		return nil, err
	}

	state := m.stateFor(treeID)
	m.mu.Lock()
	// Another updater may have swapped the index since we read it; the
	// eviction below still covers this leaf's path, and last-writer-wins
	// on the payload matches the cache's own semantics.
	state.index = updated
	m.mu.Unlock()

	return m.OnLeafParametersChanged(treeID, leaf.NodeID)
}

// DeleteTree drops the cache and index for treeID entirely.
func (m *Manager) DeleteTree(treeID id.TreeID) {
	m.mu.Lock()
	_, existed := m.trees[treeID]
	delete(m.trees, treeID)
	m.mu.Unlock()

	if existed {
		activeTrees.Dec()
		m.logger.Info("tree deleted", "tree_id", treeID)
	}
}

// TreeIDs lists every tree the manager tracks. Diagnostics only.
func (m *Manager) TreeIDs() []id.TreeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]id.TreeID, 0, len(m.trees))
	for treeID := range m.trees {
		ids = append(ids, treeID)
	}
	return ids
}

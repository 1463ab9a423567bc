// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tree provides the immutable structural index over one risk
// tree version.
//
// An Index is built once from a Snapshot and never mutated; any tree
// change produces a new Index. Resolvers holding a reference to an old
// index therefore never observe a half-updated structure, and reads
// need no synchronization.
package tree

import (
	"errors"
	"fmt"

	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
)

// Sentinel errors for index construction and lookup.
var (
	// ErrNodeNotFound indicates the node id is absent from this tree version.
	ErrNodeNotFound = errors.New("node not found")

	// ErrMalformedTree indicates a snapshot violating a structural invariant.
	ErrMalformedTree = errors.New("malformed tree")
)

// MalformedTreeError describes which invariant a snapshot violated.
// The structure-mutation API upstream validates the same invariants;
// the index re-asserts them because it is the structural source of
// truth for invalidation.
type MalformedTreeError struct {
	// TreeID is the tree whose snapshot failed validation.
	TreeID id.TreeID

	// Reason describes the violated invariant.
	Reason string
}

// Error implements the error interface.
func (e *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed tree %s: %s", e.TreeID, e.Reason)
}

// Is matches the ErrMalformedTree sentinel.
func (e *MalformedTreeError) Is(target error) bool { return target == ErrMalformedTree }

// Snapshot is a flat view of one tree version as supplied by the
// snapshot provider: every node of the tree plus the designated root.
type Snapshot struct {
	// TreeID identifies the tree.
	TreeID id.TreeID

	// RootID designates the single parentless node.
	RootID id.NodeID

	// TrialCount is the fixed Monte Carlo trial count shared by every
	// node in this tree. Zero means "use the configured default".
	TrialCount int

	// Nodes is the flat node collection. Child order within a
	// portfolio follows the order of appearance here.
	Nodes []risk.Node
}

// Limits bounds index construction. Zero values disable a limit.
type Limits struct {
	// MaxNodes caps the number of nodes in one tree.
	MaxNodes int

	// MaxDepth caps the longest root-to-leaf path.
	MaxDepth int
}

// Index is the read-only structural view of one tree version: O(1)
// node lookup, parent pointers, and ordered child lists.
type Index struct {
	treeID     id.TreeID
	rootID     id.NodeID
	trialCount int
	nodes      map[id.NodeID]risk.Node
	parents    map[id.NodeID]id.NodeID
	children   map[id.NodeID][]id.NodeID
}

// BuildIndex constructs an Index from a snapshot, re-asserting every
// structural invariant: a single designated root, exactly one parent
// per non-root node, parents are portfolios, no cycles, no dangling
// references, names unique within the tree, and the configured size
// limits. Violations fail with a MalformedTreeError.
func BuildIndex(snapshot *Snapshot, limits Limits) (*Index, error) {
	malformed := func(format string, args ...any) error {
		return &MalformedTreeError{TreeID: snapshot.TreeID, Reason: fmt.Sprintf(format, args...)}
	}

	if len(snapshot.Nodes) == 0 {
		return nil, malformed("snapshot has no nodes")
	}
	if snapshot.RootID.IsZero() {
		return nil, malformed("snapshot has no root id")
	}
	if limits.MaxNodes > 0 && len(snapshot.Nodes) > limits.MaxNodes {
		return nil, malformed("node count %d exceeds limit %d", len(snapshot.Nodes), limits.MaxNodes)
	}

	idx := &Index{
		treeID:     snapshot.TreeID,
		rootID:     snapshot.RootID,
		trialCount: snapshot.TrialCount,
		nodes:      make(map[id.NodeID]risk.Node, len(snapshot.Nodes)),
		parents:    make(map[id.NodeID]id.NodeID),
		children:   make(map[id.NodeID][]id.NodeID),
	}

	names := make(map[string]id.NodeID, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		nodeID := node.ID()
		if nodeID.IsZero() {
			return nil, malformed("node %q has no id", node.Name())
		}
		if _, dup := idx.nodes[nodeID]; dup {
			return nil, malformed("duplicate node id %s", nodeID)
		}
		if prev, dup := names[node.Name()]; dup {
			return nil, malformed("name %q used by both %s and %s", node.Name(), prev, nodeID)
		}
		names[node.Name()] = nodeID
		idx.nodes[nodeID] = node
	}

	if _, ok := idx.nodes[snapshot.RootID]; !ok {
		return nil, malformed("root %s not in snapshot", snapshot.RootID)
	}

	// Wire parent/child maps from parent references.
	for _, node := range snapshot.Nodes {
		parentID, hasParent := node.Parent()
		if !hasParent {
			if node.ID() != snapshot.RootID {
				return nil, malformed("multiple roots: %s and %s both have no parent",
					snapshot.RootID, node.ID())
			}
			continue
		}
		if node.ID() == snapshot.RootID {
			return nil, malformed("root %s has a parent reference", snapshot.RootID)
		}
		parent, ok := idx.nodes[parentID]
		if !ok {
			return nil, malformed("node %s references missing parent %s", node.ID(), parentID)
		}
		if _, isPortfolio := parent.(*risk.Portfolio); !isPortfolio {
			return nil, malformed("node %s attached under leaf %s", node.ID(), parentID)
		}
		idx.parents[node.ID()] = parentID
		idx.children[parentID] = append(idx.children[parentID], node.ID())
	}

	// Reachability doubles as cycle detection: every node has exactly
	// one parent, so a node unreachable from the root sits on a cycle
	// (or under one).
	depth, reached := idx.measure(snapshot.RootID)
	if reached != len(idx.nodes) {
		return nil, malformed("%d of %d nodes unreachable from root (cycle or orphan)",
			len(idx.nodes)-reached, len(idx.nodes))
	}
	if limits.MaxDepth > 0 && depth > limits.MaxDepth {
		return nil, malformed("depth %d exceeds limit %d", depth, limits.MaxDepth)
	}

	return idx, nil
}

// measure walks the subtree under rootID iteratively, returning the
// maximum depth (root = 1) and the number of nodes visited.
func (idx *Index) measure(rootID id.NodeID) (maxDepth, visited int) {
	type frame struct {
		nodeID id.NodeID
		depth  int
	}
	stack := []frame{{rootID, 1}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		if f.depth > maxDepth {
			maxDepth = f.depth
		}
		for _, childID := range idx.children[f.nodeID] {
			stack = append(stack, frame{childID, f.depth + 1})
		}
	}
	return maxDepth, visited
}

// TreeID returns the owning tree's identifier.
func (idx *Index) TreeID() id.TreeID { return idx.treeID }

// Root returns the root node id.
func (idx *Index) Root() id.NodeID { return idx.rootID }

// TrialCount returns the tree's configured trial count (0 = default).
func (idx *Index) TrialCount() int { return idx.trialCount }

// Len returns the number of nodes in this tree version.
func (idx *Index) Len() int { return len(idx.nodes) }

// Node returns the node for nodeID, or ErrNodeNotFound.
func (idx *Index) Node(nodeID id.NodeID) (risk.Node, error) {
	node, ok := idx.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w: %s", idx.treeID, ErrNodeNotFound, nodeID)
	}
	return node, nil
}

// Contains reports whether nodeID exists in this tree version.
func (idx *Index) Contains(nodeID id.NodeID) bool {
	_, ok := idx.nodes[nodeID]
	return ok
}

// Children returns the ordered child ids of nodeID. Leaves return an
// empty slice. The returned slice must not be modified.
func (idx *Index) Children(nodeID id.NodeID) []id.NodeID {
	return idx.children[nodeID]
}

// AncestorPath returns [nodeID, parent, ..., root], the O(depth)
// eviction path for a parameter change at nodeID.
func (idx *Index) AncestorPath(nodeID id.NodeID) ([]id.NodeID, error) {
	if !idx.Contains(nodeID) {
		return nil, fmt.Errorf("tree %s: %w: %s", idx.treeID, ErrNodeNotFound, nodeID)
	}
	path := []id.NodeID{nodeID}
	for current := nodeID; ; {
		parent, ok := idx.parents[current]
		if !ok {
			return path, nil
		}
		path = append(path, parent)
		current = parent
	}
}

// Descendants returns the set of all nodes reachable downward from
// nodeID, inclusive. O(subtree size).
func (idx *Index) Descendants(nodeID id.NodeID) (map[id.NodeID]struct{}, error) {
	if !idx.Contains(nodeID) {
		return nil, fmt.Errorf("tree %s: %w: %s", idx.treeID, ErrNodeNotFound, nodeID)
	}
	set := make(map[id.NodeID]struct{})
	stack := []id.NodeID{nodeID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		set[current] = struct{}{}
		stack = append(stack, idx.children[current]...)
	}
	return set, nil
}

// WithUpdatedNode returns a copy of the index carrying node's new
// payload in place of the old one. The tree's shape is shared with the
// receiver, so the copy is cheap; only the node map is duplicated.
//
// The replacement must keep the tree's shape: same variant, same
// parent reference. Changing either is a structural change and must go
// through a full snapshot rebuild instead.
func (idx *Index) WithUpdatedNode(node risk.Node) (*Index, error) {
	existing, err := idx.Node(node.ID())
	if err != nil {
		return nil, err
	}

	switch existing.(type) {
	case *risk.Leaf:
		if _, ok := node.(*risk.Leaf); !ok {
			return nil, &MalformedTreeError{TreeID: idx.treeID,
				Reason: fmt.Sprintf("node %s changed variant from leaf to portfolio", node.ID())}
		}
	case *risk.Portfolio:
		if _, ok := node.(*risk.Portfolio); !ok {
			return nil, &MalformedTreeError{TreeID: idx.treeID,
				Reason: fmt.Sprintf("node %s changed variant from portfolio to leaf", node.ID())}
		}
	}

	oldParent, oldHas := existing.Parent()
	newParent, newHas := node.Parent()
	if oldHas != newHas || oldParent != newParent {
		return nil, &MalformedTreeError{TreeID: idx.treeID,
			Reason: fmt.Sprintf("node %s changed parent (structural change)", node.ID())}
	}

	if node.Name() != existing.Name() {
		for otherID, other := range idx.nodes {
			if otherID != node.ID() && other.Name() == node.Name() {
				return nil, &MalformedTreeError{TreeID: idx.treeID,
					Reason: fmt.Sprintf("name %q already used by %s", node.Name(), otherID)}
			}
		}
	}

	nodes := make(map[id.NodeID]risk.Node, len(idx.nodes))
	for nodeID, n := range idx.nodes {
		nodes[nodeID] = n
	}
	nodes[node.ID()] = node

	return &Index{
		treeID:     idx.treeID,
		rootID:     idx.rootID,
		trialCount: idx.trialCount,
		nodes:      nodes,
		parents:    idx.parents,
		children:   idx.children,
	}, nil
}

// NodeIDs returns every node id in this tree version, in no particular
// order. Diagnostics only.
func (idx *Index) NodeIDs() []id.NodeID {
	ids := make([]id.NodeID, 0, len(idx.nodes))
	for nodeID := range idx.nodes {
		ids = append(ids, nodeID)
	}
	return ids
}

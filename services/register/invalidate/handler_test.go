// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package invalidate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risquanter/register/pkg/logging"
	"github.com/risquanter/register/services/register/cache"
	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
	"github.com/risquanter/register/services/register/tree"
)

// recordingNotifier captures every published invalidation.
type recordingNotifier struct {
	published []*Invalidation
	err       error
}

func (n *recordingNotifier) Publish(_ context.Context, inv *Invalidation) error {
	n.published = append(n.published, inv)
	return n.err
}

type fixture struct {
	treeID                  id.TreeID
	rootID, midID, aID, bID id.NodeID
	snapshot                *tree.Snapshot
	manager                 *cache.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		treeID:  id.NewTreeID(),
		rootID:  id.NewNodeID(),
		midID:   id.NewNodeID(),
		aID:     id.NewNodeID(),
		bID:     id.NewNodeID(),
		manager: cache.NewManager(),
	}
	f.snapshot = &tree.Snapshot{
		TreeID:     f.treeID,
		RootID:     f.rootID,
		TrialCount: 1000,
		Nodes: []risk.Node{
			&risk.Portfolio{NodeID: f.rootID, DisplayName: "root"},
			&risk.Portfolio{NodeID: f.midID, DisplayName: "mid", ParentID: f.rootID},
			&risk.Leaf{
				NodeID: f.aID, DisplayName: "leaf-a", ParentID: f.midID,
				Probability:  0.2,
				Distribution: &risk.LognormalRange{Low: 1_000, High: 50_000},
			},
			&risk.Leaf{
				NodeID: f.bID, DisplayName: "leaf-b", ParentID: f.rootID,
				Probability:  0.5,
				Distribution: &risk.LognormalRange{Low: 500, High: 2_000},
			},
		},
	}
	_, err := f.manager.OnStructureChanged(f.treeID, f.snapshot)
	require.NoError(t, err)
	return f
}

// fill caches a result for every node so evictions are observable.
func (f *fixture) fill() {
	c := f.manager.CacheFor(f.treeID)
	for _, nodeID := range []id.NodeID{f.rootID, f.midID, f.aID, f.bID} {
		c.Put(nodeID, &risk.Result{NodeID: nodeID, TrialCount: 1000, Losses: map[int]float64{0: 1}})
	}
}

func TestHandleParametersChanged(t *testing.T) {
	f := newFixture(t)
	f.fill()
	notifier := &recordingNotifier{}
	h := NewHandler(f.manager, WithNotifier(notifier))

	inv, err := h.Handle(context.Background(), Change{
		TreeID: f.treeID,
		NodeID: f.aID,
		Kind:   ParametersChanged,
	})
	require.NoError(t, err)

	assert.Equal(t, []id.NodeID{f.aID, f.midID, f.rootID}, inv.EvictedPath)
	assert.False(t, inv.Full)
	assert.Equal(t, uint64(2), inv.Generation)

	c := f.manager.CacheFor(f.treeID)
	assert.False(t, c.Contains(f.aID))
	assert.True(t, c.Contains(f.bID), "sibling survives")

	require.Len(t, notifier.published, 1)
	assert.Same(t, inv, notifier.published[0])
}

func TestHandleParametersChangedWithUpdatedLeaf(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.manager)

	inv, err := h.Handle(context.Background(), Change{
		TreeID: f.treeID,
		NodeID: f.aID,
		Kind:   ParametersChanged,
		UpdatedLeaf: &risk.Leaf{
			NodeID: f.aID, DisplayName: "leaf-a", ParentID: f.midID,
			Probability:  0.95,
			Distribution: &risk.LognormalRange{Low: 2_000, High: 90_000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []id.NodeID{f.aID, f.midID, f.rootID}, inv.EvictedPath)

	index, err := f.manager.IndexFor(f.treeID)
	require.NoError(t, err)
	node, err := index.Node(f.aID)
	require.NoError(t, err)
	assert.Equal(t, 0.95, node.(*risk.Leaf).Probability)
}

func TestHandleStructuralKinds(t *testing.T) {
	for _, kind := range []ChangeKind{StructureChanged, NodeAdded, NodeDeleted} {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.fill()
			h := NewHandler(f.manager)

			inv, err := h.Handle(context.Background(), Change{
				TreeID:   f.treeID,
				NodeID:   f.aID,
				Kind:     kind,
				Snapshot: f.snapshot,
			})
			require.NoError(t, err)

			assert.True(t, inv.Full)
			assert.Empty(t, inv.EvictedPath)
			assert.Equal(t, 0, f.manager.CacheFor(f.treeID).Size(), "structural change clears everything")
			assert.Equal(t, uint64(2), inv.Generation)
		})
	}
}

func TestStructuralChangeRequiresSnapshot(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.manager)

	_, err := h.Handle(context.Background(), Change{
		TreeID: f.treeID,
		NodeID: f.aID,
		Kind:   StructureChanged,
	})
	assert.ErrorIs(t, err, ErrSnapshotRequired)
	assert.Equal(t, uint64(1), f.manager.Generation(f.treeID), "nothing was invalidated")
}

func TestHandleUnknownKind(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.manager)

	_, err := h.Handle(context.Background(), Change{
		TreeID: f.treeID,
		NodeID: f.aID,
		Kind:   ChangeKind(99),
	})
	assert.ErrorIs(t, err, ErrUnknownChangeKind)
}

func TestHandlePropagatesManagerErrors(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.manager)

	_, err := h.Handle(context.Background(), Change{
		TreeID: id.NewTreeID(),
		NodeID: f.aID,
		Kind:   ParametersChanged,
	})
	assert.ErrorIs(t, err, cache.ErrTreeNotFound)

	_, err = h.Handle(context.Background(), Change{
		TreeID: f.treeID,
		NodeID: id.NewNodeID(),
		Kind:   ParametersChanged,
	})
	assert.ErrorIs(t, err, tree.ErrNodeNotFound)
}

func TestHandleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.fill()
	h := NewHandler(f.manager)

	change := Change{TreeID: f.treeID, NodeID: f.aID, Kind: ParametersChanged}
	first, err := h.Handle(context.Background(), change)
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), change)
	require.NoError(t, err)

	assert.Equal(t, first.EvictedPath, second.EvictedPath, "redelivery evicts the same (already empty) path")
	assert.Greater(t, second.Generation, first.Generation)
}

func TestNotifierFailureDoesNotFailInvalidation(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{err: errors.New("bus down")}
	h := NewHandler(f.manager, WithNotifier(notifier), WithLogger(logging.Nop()))

	inv, err := h.Handle(context.Background(), Change{
		TreeID: f.treeID,
		NodeID: f.aID,
		Kind:   ParametersChanged,
	})
	require.NoError(t, err, "cache state is already correct; notify failures are logged only")
	assert.NotNil(t, inv)
	assert.Len(t, notifier.published, 1)
}

func TestLogNotifier(t *testing.T) {
	n := LogNotifier{Logger: logging.Nop()}
	err := n.Publish(context.Background(), &Invalidation{
		TreeID: id.NewTreeID(),
		NodeID: id.NewNodeID(),
		Kind:   ParametersChanged,
	})
	assert.NoError(t, err)
}

func TestChangeKindString(t *testing.T) {
	assert.Equal(t, "parameters_changed", ParametersChanged.String())
	assert.Equal(t, "structure_changed", StructureChanged.String())
	assert.Equal(t, "node_added", NodeAdded.String())
	assert.Equal(t, "node_deleted", NodeDeleted.String())
	assert.Equal(t, "unknown", ChangeKind(42).String())
}

// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
)

func testLeaf() *risk.Leaf {
	return &risk.Leaf{
		NodeID:       id.NewNodeID(),
		DisplayName:  "ransomware",
		Probability:  0.25,
		Distribution: &risk.LognormalRange{Low: 10_000, High: 500_000},
	}
}

func TestSimulateLeafDeterministic(t *testing.T) {
	mc := NewMonteCarlo()
	leaf := testLeaf()

	a, err := mc.SimulateLeaf(context.Background(), leaf, 5_000)
	require.NoError(t, err)
	b, err := mc.SimulateLeaf(context.Background(), leaf, 5_000)
	require.NoError(t, err)

	// Bit-identical outcomes for identical inputs.
	assert.True(t, a.Equal(b))
	assert.Equal(t, leaf.NodeID, a.NodeID)
	assert.Equal(t, 5_000, a.TrialCount)
}

func TestSimulateLeafParameterSensitivity(t *testing.T) {
	mc := NewMonteCarlo()
	leaf := testLeaf()

	base, err := mc.SimulateLeaf(context.Background(), leaf, 5_000)
	require.NoError(t, err)

	t.Run("distribution change reshuffles", func(t *testing.T) {
		changed := *leaf
		changed.Distribution = &risk.LognormalRange{Low: 10_000, High: 600_000}
		got, err := mc.SimulateLeaf(context.Background(), &changed, 5_000)
		require.NoError(t, err)
		assert.False(t, got.Equal(base))
	})

	t.Run("node identity decorrelates streams", func(t *testing.T) {
		other := *leaf
		other.NodeID = id.NewNodeID()
		got, err := mc.SimulateLeaf(context.Background(), &other, 5_000)
		require.NoError(t, err)
		assert.False(t, got.Equal(base))
	})
}

func TestSimulateLeafOccurrenceRate(t *testing.T) {
	mc := NewMonteCarlo()
	leaf := testLeaf()
	const trials = 50_000

	result, err := mc.SimulateLeaf(context.Background(), leaf, trials)
	require.NoError(t, err)

	rate := float64(result.LossTrialCount()) / float64(trials)
	assert.InDelta(t, leaf.Probability, rate, 0.01, "loss trial rate far from probability")

	for trial, loss := range result.Losses {
		require.GreaterOrEqual(t, trial, 0)
		require.Less(t, trial, trials)
		require.Greater(t, loss, 0.0)
	}
}

func TestSimulateLeafErrors(t *testing.T) {
	mc := NewMonteCarlo()

	t.Run("invalid trial count", func(t *testing.T) {
		_, err := mc.SimulateLeaf(context.Background(), testLeaf(), 0)
		require.ErrorIs(t, err, ErrSimulationFailed)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		leaf := testLeaf()
		leaf.Probability = 1.5
		_, err := mc.SimulateLeaf(context.Background(), leaf, 100)
		require.ErrorIs(t, err, ErrSimulationFailed)
		require.ErrorIs(t, err, risk.ErrInvalidProbability)

		var simErr *SimulationError
		require.ErrorAs(t, err, &simErr)
		assert.Equal(t, leaf.NodeID, simErr.NodeID)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := mc.SimulateLeaf(ctx, testLeaf(), 100_000)
		require.ErrorIs(t, err, ErrSimulationFailed)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCombineWrapsMismatch(t *testing.T) {
	mc := NewMonteCarlo()
	parent := id.NewNodeID()

	a := risk.Identity(id.NewNodeID(), 10)
	b := risk.Identity(id.NewNodeID(), 20)

	_, err := mc.Combine(parent, 10, a, b)
	require.ErrorIs(t, err, ErrSimulationFailed)
	require.ErrorIs(t, err, risk.ErrTrialCountMismatch)
}

func TestCombineAggregates(t *testing.T) {
	mc := NewMonteCarlo()
	parent := id.NewNodeID()

	a := &risk.Result{TrialCount: 4, Losses: map[int]float64{0: 5}}
	b := &risk.Result{TrialCount: 4, Losses: map[int]float64{0: 5, 2: 7}}

	combined, err := mc.Combine(parent, 4, a, b)
	require.NoError(t, err)
	assert.Equal(t, parent, combined.NodeID)
	assert.Equal(t, map[int]float64{0: 10, 2: 7}, combined.Losses)
}

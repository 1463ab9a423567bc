// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risquanter/register/services/register/id"
)

// randomResult builds a result with losses in roughly 30% of trials.
func randomResult(rng *rand.Rand, trials int) *Result {
	r := Identity(id.NewNodeID(), trials)
	for trial := 0; trial < trials; trial++ {
		if rng.Float64() < 0.3 {
			r.Losses[trial] = rng.Float64() * 1e6
		}
	}
	return r
}

func TestMonoidLaws(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	const trials = 200

	for i := 0; i < 50; i++ {
		a := randomResult(rng, trials)
		b := randomResult(rng, trials)
		c := randomResult(rng, trials)

		t.Run("associativity", func(t *testing.T) {
			bc, err := Combine(b, c)
			require.NoError(t, err)
			left, err := Combine(a, bc)
			require.NoError(t, err)

			ab, err := Combine(a, b)
			require.NoError(t, err)
			right, err := Combine(ab, c)
			require.NoError(t, err)

			assert.True(t, left.Equal(right))
		})

		t.Run("commutativity", func(t *testing.T) {
			ab, err := Combine(a, b)
			require.NoError(t, err)
			ba, err := Combine(b, a)
			require.NoError(t, err)
			assert.True(t, ab.Equal(ba))
		})

		t.Run("identity", func(t *testing.T) {
			combined, err := Combine(a, Identity(id.NewNodeID(), trials))
			require.NoError(t, err)
			assert.True(t, combined.Equal(a))
		})
	}
}

func TestCombineSumsPerTrial(t *testing.T) {
	a := &Result{TrialCount: 10, Losses: map[int]float64{1: 100, 3: 50}}
	b := &Result{TrialCount: 10, Losses: map[int]float64{3: 25, 7: 10}}

	combined, err := Combine(a, b)
	require.NoError(t, err)

	// Outer join: trials present in either operand, summed where shared.
	assert.Equal(t, map[int]float64{1: 100, 3: 75, 7: 10}, combined.Losses)
	assert.Equal(t, 10, combined.TrialCount)
}

func TestCombineTrialCountMismatch(t *testing.T) {
	a := Identity(id.NewNodeID(), 10)
	b := Identity(id.NewNodeID(), 20)

	_, err := Combine(a, b)
	require.ErrorIs(t, err, ErrTrialCountMismatch)
}

func TestCombineAll(t *testing.T) {
	nodeID := id.NewNodeID()

	t.Run("zero operands yield identity", func(t *testing.T) {
		r, err := CombineAll(nodeID, 100)
		require.NoError(t, err)
		assert.Equal(t, nodeID, r.NodeID)
		assert.Equal(t, 0, r.LossTrialCount())
	})

	t.Run("stamps owning node", func(t *testing.T) {
		a := &Result{TrialCount: 5, Losses: map[int]float64{0: 1}}
		b := &Result{TrialCount: 5, Losses: map[int]float64{4: 2}}
		r, err := CombineAll(nodeID, 5, a, b)
		require.NoError(t, err)
		assert.Equal(t, nodeID, r.NodeID)
		assert.Equal(t, map[int]float64{0: 1, 4: 2}, r.Losses)
	})

	t.Run("mismatch propagates", func(t *testing.T) {
		a := Identity(id.NewNodeID(), 5)
		b := Identity(id.NewNodeID(), 6)
		_, err := CombineAll(nodeID, 5, a, b)
		require.ErrorIs(t, err, ErrTrialCountMismatch)
	})
}

func TestExceedance(t *testing.T) {
	r := &Result{TrialCount: 10, Losses: map[int]float64{
		0: 100, 1: 200, 2: 300, 3: 400,
	}}

	assert.InDelta(t, 0.4, r.Exceedance(50), 1e-12)
	assert.InDelta(t, 0.3, r.Exceedance(200), 1e-12)
	assert.InDelta(t, 0.0, r.Exceedance(1000), 1e-12)

	empty := Identity(id.NewNodeID(), 0)
	assert.Zero(t, empty.Exceedance(1))
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Result{NodeID: id.NewNodeID(), TrialCount: 3, Losses: map[int]float64{1: 10}}
	clone := orig.Clone()

	clone.Losses[1] = 99
	assert.Equal(t, 10.0, orig.Losses[1])
	assert.Equal(t, orig.NodeID, clone.NodeID)
}

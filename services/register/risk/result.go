// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/risquanter/register/services/register/id"
)

// ErrTrialCountMismatch indicates an attempt to combine results that
// were simulated over different trial counts.
var ErrTrialCountMismatch = errors.New("trial count mismatch")

// Result is the simulated outcome for one node: a sparse mapping from
// trial index to loss amount. Only trials where a loss occurred are
// stored; every node in a tree is simulated over the same trial count.
//
// Results form a commutative monoid under Combine, with Identity as
// the neutral element ("no losses in any trial"). A Result is never
// mutated after creation; replacement is the only update.
type Result struct {
	// NodeID is the owning node, or zero for an intermediate
	// combination that has not been assigned to a node yet.
	NodeID id.NodeID

	// TrialCount is the fixed number of Monte Carlo trials.
	TrialCount int

	// Losses maps trial index (0-based) to the loss in that trial.
	// Absent trials incurred no loss.
	Losses map[int]float64
}

// Identity returns the monoid identity for the given node and trial
// count: a result with no losses in any trial.
func Identity(nodeID id.NodeID, trialCount int) *Result {
	return &Result{
		NodeID:     nodeID,
		TrialCount: trialCount,
		Losses:     map[int]float64{},
	}
}

// Combine merges two results by outer join over trial indices and
// per-trial summation. The returned result carries no NodeID; callers
// that aggregate on behalf of a node use CombineAll, which stamps it.
//
// Combine is associative and commutative, and errors only when the
// operands disagree on trial count.
func Combine(a, b *Result) (*Result, error) {
	if a.TrialCount != b.TrialCount {
		return nil, fmt.Errorf("%w: %d vs %d", ErrTrialCountMismatch, a.TrialCount, b.TrialCount)
	}

	losses := make(map[int]float64, len(a.Losses)+len(b.Losses))
	for trial, loss := range a.Losses {
		losses[trial] = loss
	}
	for trial, loss := range b.Losses {
		losses[trial] += loss
	}

	return &Result{TrialCount: a.TrialCount, Losses: losses}, nil
}

// CombineAll folds any number of results into a single result owned by
// nodeID. Zero operands yield the identity (a portfolio with no
// children is degenerate but valid).
func CombineAll(nodeID id.NodeID, trialCount int, results ...*Result) (*Result, error) {
	acc := Identity(nodeID, trialCount)
	for _, r := range results {
		combined, err := Combine(acc, r)
		if err != nil {
			return nil, err
		}
		combined.NodeID = nodeID
		acc = combined
	}
	return acc, nil
}

// LossTrialCount returns the number of trials in which a loss occurred.
func (r *Result) LossTrialCount() int {
	return len(r.Losses)
}

// Total returns the sum of losses across all trials.
func (r *Result) Total() float64 {
	var sum float64
	for _, loss := range r.Losses {
		sum += loss
	}
	return sum
}

// Exceedance returns the fraction of trials whose loss is at least
// threshold. This is the primitive a loss exceedance curve is plotted
// from, one threshold per curve point.
func (r *Result) Exceedance(threshold float64) float64 {
	if r.TrialCount == 0 {
		return 0
	}
	var n int
	for _, loss := range r.Losses {
		if loss >= threshold {
			n++
		}
	}
	return float64(n) / float64(r.TrialCount)
}

// Equal reports whether two results describe the same outcome: same
// trial count and identical per-trial losses. NodeID is excluded so
// that algebraic identities (commutativity in particular) hold.
func (r *Result) Equal(other *Result) bool {
	if r.TrialCount != other.TrialCount || len(r.Losses) != len(other.Losses) {
		return false
	}
	for trial, loss := range r.Losses {
		o, ok := other.Losses[trial]
		if !ok || math.Abs(loss-o) > 1e-9 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Cached results are shared by reference;
// callers that need to modify an outcome copy it first.
func (r *Result) Clone() *Result {
	losses := make(map[int]float64, len(r.Losses))
	for trial, loss := range r.Losses {
		losses[trial] = loss
	}
	return &Result{NodeID: r.NodeID, TrialCount: r.TrialCount, Losses: losses}
}

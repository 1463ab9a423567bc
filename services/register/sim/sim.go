// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sim runs Monte Carlo simulation for risk-tree leaves and
// aggregates child results for portfolios.
//
// The engine is deterministic: the PRNG is seeded from the leaf's
// identity, its distribution parameters, and the trial count, so the
// same inputs always produce the same result. Concurrent resolvers
// racing to compute the same node therefore agree on the value, which
// is what lets the result cache use unconditional last-writer-wins
// puts.
package sim

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
)

// ErrSimulationFailed is the root of all simulation failures. Callers
// match it with errors.Is; the concrete SimulationError carries the
// offending node.
var ErrSimulationFailed = errors.New("simulation failed")

// SimulationError wraps a failure while simulating a specific leaf.
type SimulationError struct {
	// NodeID is the leaf whose simulation failed.
	NodeID id.NodeID

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed for node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SimulationError) Unwrap() error { return e.Err }

// Is matches the ErrSimulationFailed sentinel.
func (e *SimulationError) Is(target error) bool { return target == ErrSimulationFailed }

// Simulator produces per-leaf simulation results and combines child
// results into a parent result. Implementations must be pure: the same
// inputs yield the same outputs, and nothing is retained between calls.
type Simulator interface {
	// SimulateLeaf runs the configured number of trials for one leaf.
	SimulateLeaf(ctx context.Context, leaf *risk.Leaf, trialCount int) (*risk.Result, error)

	// Combine aggregates child results into a result owned by nodeID
	// using the associative, commutative outcome monoid.
	Combine(nodeID id.NodeID, trialCount int, results ...*risk.Result) (*risk.Result, error)
}

// cancelCheckInterval is how many trials run between context checks.
const cancelCheckInterval = 4096

// MonteCarlo is the default Simulator. The zero value is ready to use.
type MonteCarlo struct{}

// NewMonteCarlo returns a deterministic Monte Carlo simulator.
func NewMonteCarlo() *MonteCarlo { return &MonteCarlo{} }

// SimulateLeaf runs trialCount independent trials. Each trial draws a
// Bernoulli occurrence at the leaf's probability; on occurrence a loss
// is sampled from the leaf's distribution via the inverse CDF. Only
// loss trials are stored (sparse outcome).
//
// A cancelled context aborts the run and is reported as a simulation
// failure; no partial result is ever returned.
func (m *MonteCarlo) SimulateLeaf(ctx context.Context, leaf *risk.Leaf, trialCount int) (*risk.Result, error) {
	if trialCount <= 0 {
		return nil, &SimulationError{NodeID: leaf.NodeID,
			Err: fmt.Errorf("trial count must be positive, got %d", trialCount)}
	}
	if err := leaf.Validate(); err != nil {
		return nil, &SimulationError{NodeID: leaf.NodeID, Err: err}
	}

	rng := rand.New(rand.NewPCG(seed(leaf, trialCount)))
	result := risk.Identity(leaf.NodeID, trialCount)

	for trial := 0; trial < trialCount; trial++ {
		if trial%cancelCheckInterval == 0 && ctx.Err() != nil {
			return nil, &SimulationError{NodeID: leaf.NodeID, Err: ctx.Err()}
		}
		if rng.Float64() >= leaf.Probability {
			continue
		}
		result.Losses[trial] = leaf.Distribution.Sample(rng.Float64())
	}

	return result, nil
}

// Combine aggregates child results for nodeID.
func (m *MonteCarlo) Combine(nodeID id.NodeID, trialCount int, results ...*risk.Result) (*risk.Result, error) {
	combined, err := risk.CombineAll(nodeID, trialCount, results...)
	if err != nil {
		return nil, &SimulationError{NodeID: nodeID, Err: err}
	}
	return combined, nil
}

// seed derives the two PCG seed words from the leaf identity, its
// distribution digest, and the trial count. Any parameter change
// yields an unrelated trial stream.
func seed(leaf *risk.Leaf, trialCount int) (uint64, uint64) {
	h := sha256.New()
	h.Write([]byte(leaf.NodeID.String()))
	h.Write([]byte(leaf.Distribution.Digest()))
	binary.Write(h, binary.LittleEndian, leaf.Probability)
	binary.Write(h, binary.LittleEndian, int64(trialCount))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:16])
}

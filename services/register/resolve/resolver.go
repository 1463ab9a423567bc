// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolve implements the cache-aside result resolver: given a
// tree and a target node it returns the cached simulation result or
// computes it on demand, recursively resolving missing descendants
// first.
//
// # Single Flight
//
// Concurrent misses for the same (tree, node) pair coalesce into one
// computation whose result (or error) fans out to every waiter. The
// guarantee is per node, not tree-wide: misses on different nodes of
// the same tree proceed in parallel. Recursion reuses the same flight
// group, so a portfolio and a sibling racing toward a shared
// descendant converge on one computation for it.
//
// # Invalidation Race
//
// Computations are tagged with the tree's generation token, read
// before the index so the token can only be older than the structure
// being computed from. A result whose token is stale by completion
// time is returned to its waiters but not cached; the next read
// recomputes from current parameters.
package resolve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/risquanter/register/pkg/logging"
	"github.com/risquanter/register/services/register/cache"
	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
	"github.com/risquanter/register/services/register/sim"
	"github.com/risquanter/register/services/register/tree"
)

// Tracer for resolver operations.
var tracer = otel.Tracer("register.resolve")

// DefaultBatchConcurrency bounds parallel fan-out in ResolveAll.
const DefaultBatchConcurrency = 8

// Resolver orchestrates cache-aside resolution of simulation results.
//
// # Thread Safety
//
// Safe for concurrent use. All shared mutable state lives in the
// manager's caches and the flight group.
type Resolver struct {
	manager   *cache.Manager
	simulator sim.Simulator
	logger    *logging.Logger
	flight    singleflight.Group

	batchConcurrency int
}

// ResolverOption is a functional option for configuring Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(logger *logging.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithBatchConcurrency bounds how many nodes ResolveAll works on at
// once.
func WithBatchConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.batchConcurrency = n
		}
	}
}

// NewResolver creates a Resolver over the given manager and simulator.
func NewResolver(manager *cache.Manager, simulator sim.Simulator, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		manager:          manager,
		simulator:        simulator,
		logger:           logging.Nop(),
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the simulation result for nodeID in treeID,
// computing it (and any missing descendant results) on demand.
//
// Errors: cache.ErrTreeNotFound for an unknown tree,
// tree.ErrNodeNotFound for a node absent from the tree's current
// index, and sim.ErrSimulationFailed for a failed leaf simulation.
// Simulation failures are not retried here: the computation is a pure
// function of its inputs, so only the caller can know whether the
// cause was transient.
func (r *Resolver) Resolve(ctx context.Context, treeID id.TreeID, nodeID id.NodeID) (*risk.Result, error) {
	ctx, span := tracer.Start(ctx, "resolve.Resolve")
	span.SetAttributes(
		attribute.String("tree_id", treeID.String()),
		attribute.String("node_id", nodeID.String()),
	)
	defer span.End()

	start := time.Now()
	result, err := r.resolve(ctx, treeID, nodeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	recordResolveDuration(time.Since(start))
	return result, nil
}

// resolve is the recursive entry point shared by Resolve, ResolveAll,
// and portfolio child descent.
func (r *Resolver) resolve(ctx context.Context, treeID id.TreeID, nodeID id.NodeID) (*risk.Result, error) {
	// Generation before index: the token must never be newer than the
	// structure we compute from, or a stale computation could slip
	// into the cache as current.
	generation := r.manager.Generation(treeID)
	index, err := r.manager.IndexFor(treeID)
	if err != nil {
		return nil, err
	}
	results := r.manager.CacheFor(treeID)

	if result, ok := results.Get(nodeID); ok {
		return result, nil
	}

	key := treeID.String() + ":" + nodeID.String()
	value, err, shared := r.flight.Do(key, func() (any, error) {
		// Double-check: the result may have landed while we raced for
		// the flight slot.
		if result, ok := results.Get(nodeID); ok {
			return result, nil
		}

		result, err := r.compute(ctx, treeID, index, nodeID)
		if err != nil {
			return nil, err
		}

		if r.manager.Generation(treeID) == generation {
			results.Put(nodeID, result)
		} else {
			// Invalidated while computing: the value is still what the
			// waiters asked for, but it must not outlive this call.
			recordStaleDiscard()
			r.logger.Debug("discarding stale computation",
				"tree_id", treeID, "node_id", nodeID)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		recordCoalescedWait()
	}
	return value.(*risk.Result), nil
}

// compute produces the result for one node on a cache miss.
func (r *Resolver) compute(ctx context.Context, treeID id.TreeID, index *tree.Index, nodeID id.NodeID) (*risk.Result, error) {
	node, err := index.Node(nodeID)
	if err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case *risk.Leaf:
		recordComputation("leaf")
		return r.simulator.SimulateLeaf(ctx, n, index.TrialCount())

	case *risk.Portfolio:
		childIDs := index.Children(nodeID)
		childResults := make([]*risk.Result, 0, len(childIDs))
		for _, childID := range childIDs {
			childResult, err := r.resolve(ctx, treeID, childID)
			if err != nil {
				return nil, err
			}
			childResults = append(childResults, childResult)
		}
		recordComputation("portfolio")
		return r.simulator.Combine(nodeID, index.TrialCount(), childResults...)

	default:
		// Unreachable: risk.Node is sealed to exactly two variants.
		return nil, fmt.Errorf("unknown node variant %T for %s", node, nodeID)
	}
}

// ResolveAll resolves a set of nodes, sharing cache hits and in-flight
// computations across the batch: a portfolio requested together with
// several of its children triggers no redundant work for the shared
// subtree.
//
// On the first error the batch stops and that error is returned; the
// partial results are discarded (individual successes are still
// cached, so a retry is cheap).
func (r *Resolver) ResolveAll(ctx context.Context, treeID id.TreeID, nodeIDs []id.NodeID) (map[id.NodeID]*risk.Result, error) {
	ctx, span := tracer.Start(ctx, "resolve.ResolveAll")
	span.SetAttributes(
		attribute.String("tree_id", treeID.String()),
		attribute.Int("batch_size", len(nodeIDs)),
	)
	defer span.End()

	unique := make([]id.NodeID, 0, len(nodeIDs))
	seen := make(map[id.NodeID]struct{}, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		if _, dup := seen[nodeID]; !dup {
			seen[nodeID] = struct{}{}
			unique = append(unique, nodeID)
		}
	}

	out := make(map[id.NodeID]*risk.Result, len(unique))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.batchConcurrency)
	for _, nodeID := range unique {
		g.Go(func() error {
			result, err := r.resolve(ctx, treeID, nodeID)
			if err != nil {
				return err
			}
			mu.Lock()
			out[nodeID] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

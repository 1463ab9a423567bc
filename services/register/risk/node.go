// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package risk defines the risk-tree node model and the simulation
// result monoid.
//
// A node is one of exactly two shapes: a Leaf carrying a loss
// distribution, or a Portfolio whose value is purely the aggregation of
// its children. The Node interface is sealed (unexported marker method)
// so every consumer can dispatch exhaustively on the two concrete types
// and the compiler rules out a third variant appearing elsewhere.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/risquanter/register/services/register/id"
)

// Sentinel errors for node and distribution validation.
var (
	// ErrInvalidProbability indicates a leaf probability outside (0, 1].
	ErrInvalidProbability = errors.New("probability must be in (0, 1]")

	// ErrInvalidDistribution indicates a distribution that fails validation.
	ErrInvalidDistribution = errors.New("invalid distribution")
)

// Node is the sealed interface over the two risk-tree node shapes.
//
// Exactly two types implement it: *Leaf and *Portfolio. Consumers
// dispatch with a type switch; the default arm is unreachable for any
// value constructed by this module.
type Node interface {
	// ID returns the node's identifier.
	ID() id.NodeID

	// Name returns the display name, unique within a tree.
	Name() string

	// Parent returns the parent node id and true, or false for the root.
	Parent() (id.NodeID, bool)

	// isRiskNode seals the interface to this package.
	isRiskNode()
}

// Leaf is a terminal node carrying a probability of occurrence and a
// loss-distribution specification. Leaves never have children.
type Leaf struct {
	NodeID       id.NodeID
	DisplayName  string
	ParentID     id.NodeID // zero value for a root leaf
	Probability  float64   // probability the risk occurs in one trial, (0, 1]
	Distribution Distribution
}

// Portfolio is an aggregation node. It has no distribution of its own;
// its simulated result is the combination of its children's results.
// Children are derived from the parent references of other nodes.
type Portfolio struct {
	NodeID      id.NodeID
	DisplayName string
	ParentID    id.NodeID // zero value for the root
}

func (l *Leaf) ID() id.NodeID      { return l.NodeID }
func (l *Leaf) Name() string       { return l.DisplayName }
func (l *Leaf) isRiskNode()        {}
func (p *Portfolio) ID() id.NodeID { return p.NodeID }
func (p *Portfolio) Name() string  { return p.DisplayName }
func (p *Portfolio) isRiskNode()   {}

// Parent returns the parent node id, or false for a root leaf.
func (l *Leaf) Parent() (id.NodeID, bool) {
	return l.ParentID, !l.ParentID.IsZero()
}

// Parent returns the parent node id, or false for the root.
func (p *Portfolio) Parent() (id.NodeID, bool) {
	return p.ParentID, !p.ParentID.IsZero()
}

// Validate checks the leaf's simulation parameters.
func (l *Leaf) Validate() error {
	if l.Probability <= 0 || l.Probability > 1 || math.IsNaN(l.Probability) {
		return fmt.Errorf("leaf %s: %w (got %v)", l.NodeID, ErrInvalidProbability, l.Probability)
	}
	if l.Distribution == nil {
		return fmt.Errorf("leaf %s: %w: no distribution", l.NodeID, ErrInvalidDistribution)
	}
	if err := l.Distribution.Validate(); err != nil {
		return fmt.Errorf("leaf %s: %w", l.NodeID, err)
	}
	return nil
}

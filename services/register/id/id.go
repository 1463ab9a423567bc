// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package id defines the identifier types used across the register core.
//
// Tree and node identifiers share one representation (a canonical
// 26-character ULID) and one validation rule, but they are deliberately
// distinct Go types. A TreeID can never be passed where a NodeID is
// expected, even though both print and validate identically. Identifiers
// are assigned exactly once, by whichever component creates the entity;
// external callers never supply them.
package id

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidID indicates a string is not a canonical ULID.
var ErrInvalidID = errors.New("invalid identifier")

// TreeID identifies a risk tree. Distinct from NodeID by construction.
type TreeID struct {
	value string
}

// NodeID identifies a node within a risk tree. Distinct from TreeID
// by construction.
type NodeID struct {
	value string
}

// parse validates the shared representation: a canonical, uppercase,
// 26-character ULID string.
func parse(s string) (string, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	return u.String(), nil
}

// NewTreeID generates a fresh, sortable TreeID.
func NewTreeID() TreeID {
	return TreeID{value: ulid.Make().String()}
}

// NewNodeID generates a fresh, sortable NodeID.
func NewNodeID() NodeID {
	return NodeID{value: ulid.Make().String()}
}

// ParseTreeID validates s and returns it as a TreeID.
func ParseTreeID(s string) (TreeID, error) {
	v, err := parse(s)
	if err != nil {
		return TreeID{}, fmt.Errorf("tree id: %w", err)
	}
	return TreeID{value: v}, nil
}

// ParseNodeID validates s and returns it as a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	v, err := parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("node id: %w", err)
	}
	return NodeID{value: v}, nil
}

// String returns the canonical 26-character form.
func (t TreeID) String() string { return t.value }

// String returns the canonical 26-character form.
func (n NodeID) String() string { return n.value }

// IsZero reports whether the identifier is unset.
func (t TreeID) IsZero() bool { return t.value == "" }

// IsZero reports whether the identifier is unset.
func (n NodeID) IsZero() bool { return n.value == "" }

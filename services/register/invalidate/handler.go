// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package invalidate translates external change notifications into
// cache-manager calls and republishes what was invalidated for any
// interested downstream consumer.
//
// The handler is a synchronous translation step: it has no retry or
// queuing logic of its own. Whatever delivers change notifications is
// responsible for ordering and delivery; the handler assumes
// at-least-once delivery and is idempotent: invalidating an
// already-invalidated path is a harmless no-op.
package invalidate

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/risquanter/register/pkg/logging"
	"github.com/risquanter/register/services/register/cache"
	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/risk"
	"github.com/risquanter/register/services/register/tree"
)

// Tracer for invalidation operations.
var tracer = otel.Tracer("register.invalidate")

// Sentinel errors for change handling.
var (
	// ErrSnapshotRequired indicates a structural change without a snapshot.
	ErrSnapshotRequired = errors.New("structural change requires a snapshot")

	// ErrUnknownChangeKind indicates an unrecognized change kind.
	ErrUnknownChangeKind = errors.New("unknown change kind")
)

// ChangeKind classifies an external tree change.
type ChangeKind int

const (
	// ParametersChanged is an edit to one leaf's probability or
	// distribution. Structure is untouched; only the leaf's ancestor
	// path needs eviction.
	ParametersChanged ChangeKind = iota

	// StructureChanged is an add/remove/reparent somewhere in the tree.
	StructureChanged

	// NodeAdded is a structural change delivered with the added node id.
	NodeAdded

	// NodeDeleted is a structural change delivered with the removed node id.
	NodeDeleted
)

// String returns the change kind's wire name.
func (k ChangeKind) String() string {
	switch k {
	case ParametersChanged:
		return "parameters_changed"
	case StructureChanged:
		return "structure_changed"
	case NodeAdded:
		return "node_added"
	case NodeDeleted:
		return "node_deleted"
	default:
		return "unknown"
	}
}

// Change is one external "this node changed" notification.
type Change struct {
	// TreeID is the affected tree.
	TreeID id.TreeID

	// NodeID is the changed node (informational for structural kinds).
	NodeID id.NodeID

	// Kind classifies the change.
	Kind ChangeKind

	// Snapshot is the tree's new flat node collection. Required for
	// every kind except ParametersChanged.
	Snapshot *tree.Snapshot

	// UpdatedLeaf optionally carries the leaf's new parameters for
	// ParametersChanged; when set, the manager installs them via a
	// copy-on-write index swap before evicting the ancestor path.
	UpdatedLeaf *risk.Leaf
}

// Invalidation reports what a handled change evicted. The evicted path
// tells an external notifier exactly which cached views are now stale.
type Invalidation struct {
	// TreeID is the affected tree.
	TreeID id.TreeID

	// NodeID is the node the change named.
	NodeID id.NodeID

	// Kind is the change kind that was handled.
	Kind ChangeKind

	// EvictedPath is the ancestor path evicted for a parameter change,
	// leaf-to-root order. Empty for full invalidations.
	EvictedPath []id.NodeID

	// Full reports that the entire tree cache was cleared.
	Full bool

	// Generation is the tree's version token after the invalidation.
	Generation uint64
}

// Notifier receives invalidation reports for downstream distribution
// (event bus, SSE fan-out, audit log; all outside this core).
type Notifier interface {
	// Publish delivers one invalidation report.
	Publish(ctx context.Context, inv *Invalidation) error
}

// NopNotifier discards every report.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(context.Context, *Invalidation) error { return nil }

// LogNotifier writes every report to a structured logger. Useful as a
// default and in tests.
type LogNotifier struct {
	Logger *logging.Logger
}

// Publish implements Notifier.
func (n LogNotifier) Publish(_ context.Context, inv *Invalidation) error {
	n.Logger.Info("cache invalidated",
		"tree_id", inv.TreeID,
		"node_id", inv.NodeID,
		"kind", inv.Kind.String(),
		"full", inv.Full,
		"evicted", len(inv.EvictedPath),
		"generation", inv.Generation,
	)
	return nil
}

// Handler reacts to external change notifications.
type Handler struct {
	manager  *cache.Manager
	notifier Notifier
	logger   *logging.Logger
}

// HandlerOption is a functional option for configuring Handler.
type HandlerOption func(*Handler)

// WithNotifier sets the downstream notifier.
func WithNotifier(n Notifier) HandlerOption {
	return func(h *Handler) { h.notifier = n }
}

// WithLogger sets the handler's logger.
func WithLogger(logger *logging.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates a Handler over the given manager.
func NewHandler(manager *cache.Manager, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager:  manager,
		notifier: NopNotifier{},
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle translates one change into the matching cache-manager call
// and publishes the resulting invalidation report.
//
// A parameter change evicts the leaf's ancestor path, O(depth). Every
// structural kind, including add and delete, rebuilds the index from
// the change's snapshot and clears the whole tree cache: structure
// edits can move nodes between ancestor paths, so the conservative
// full invalidation is the safe default.
//
// Publish failures are logged and never fail the invalidation itself;
// the cache state is already correct by the time the notifier runs.
func (h *Handler) Handle(ctx context.Context, change Change) (*Invalidation, error) {
	ctx, span := tracer.Start(ctx, "invalidate.Handle")
	span.SetAttributes(
		attribute.String("tree_id", change.TreeID.String()),
		attribute.String("kind", change.Kind.String()),
	)
	defer span.End()

	inv := &Invalidation{
		TreeID: change.TreeID,
		NodeID: change.NodeID,
		Kind:   change.Kind,
	}

	switch change.Kind {
	case ParametersChanged:
		var path []id.NodeID
		var err error
		if change.UpdatedLeaf != nil {
			path, err = h.manager.UpdateLeafParameters(change.TreeID, change.UpdatedLeaf)
		} else {
			path, err = h.manager.OnLeafParametersChanged(change.TreeID, change.NodeID)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		inv.EvictedPath = path

	case StructureChanged, NodeAdded, NodeDeleted:
		if change.Snapshot == nil {
			return nil, fmt.Errorf("%w: tree %s kind %s",
				ErrSnapshotRequired, change.TreeID, change.Kind)
		}
		if _, err := h.manager.OnStructureChanged(change.TreeID, change.Snapshot); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		inv.Full = true

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownChangeKind, change.Kind)
	}

	inv.Generation = h.manager.Generation(change.TreeID)

	if err := h.notifier.Publish(ctx, inv); err != nil {
		h.logger.Warn("invalidation notify failed",
			"tree_id", change.TreeID, "error", err)
	}
	return inv, nil
}

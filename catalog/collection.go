// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package catalog

import "github.com/cubefs/coldb/proto"

// sharedState is the expensive, effectively-immutable substate of a
// collection descriptor: index definitions and key patterns. A
// compatible clone produced during a point-in-time read shares this
// pointer with its sibling in-memory descriptor instead of
// re-deriving it from the durable catalog entry.
type sharedState struct {
	indexes []proto.IndexDescriptor
}

// Collection is the catalog's in-memory descriptor for a collection.
// It is treated as value-like: any metadata mutation clones the
// descriptor rather than mutating it in place, so a reader holding an
// older *Collection never observes a write in progress.
//
// Per the catalog's invariants, an undisturbed committed descriptor is
// referenced from exactly three places: byUUID, byNamespace and
// orderedByDbUUID. Code outside this package must never retain a
// *Collection past the lifetime of the catalog version it came from.
type Collection struct {
	uuid  proto.UUID
	ns    proto.Namespace
	ident proto.Ident

	catalogId proto.CatalogId

	// minValidSnapshot is the earliest storage snapshot timestamp this
	// descriptor's in-memory state is valid for. Reads at earlier
	// timestamps must be served by reconstructing from the durable
	// catalog.
	minValidSnapshot proto.Timestamp

	options proto.CollectionOptions
	shared  *sharedState

	pendingCommit   bool
	pendingCommitTs proto.Timestamp
}

// NewCollection builds a brand-new committed descriptor. It is the
// entry point used by registerCollection and by
// establishConsistentCollection's from-scratch path.
func NewCollection(id proto.UUID, ns proto.Namespace, ident proto.Ident, catalogId proto.CatalogId, opts proto.CollectionOptions, indexes []proto.IndexDescriptor, minValidSnapshot proto.Timestamp) *Collection {
	return &Collection{
		uuid:             id,
		ns:               ns,
		ident:            ident,
		catalogId:        catalogId,
		minValidSnapshot: minValidSnapshot,
		options:          opts,
		shared:           &sharedState{indexes: append([]proto.IndexDescriptor(nil), indexes...)},
	}
}

func (c *Collection) UUID() proto.UUID                 { return c.uuid }
func (c *Collection) Namespace() proto.Namespace       { return c.ns }
func (c *Collection) Ident() proto.Ident               { return c.ident }
func (c *Collection) CatalogId() proto.CatalogId       { return c.catalogId }
func (c *Collection) MinValidSnapshot() proto.Timestamp { return c.minValidSnapshot }
func (c *Collection) Options() proto.CollectionOptions { return c.options }
func (c *Collection) PendingCommit() bool              { return c.pendingCommit }
func (c *Collection) PendingCommitTs() proto.Timestamp { return c.pendingCommitTs }

// Indexes returns a defensive copy; callers must not mutate a
// descriptor's index list through this accessor.
func (c *Collection) Indexes() []proto.IndexDescriptor {
	return append([]proto.IndexDescriptor(nil), c.shared.indexes...)
}

// Clone returns a private copy suitable for a metadata write: it is
// invisible to other readers until the operation that produced it
// commits through the publisher.
func (c *Collection) Clone() *Collection {
	cp := *c
	cp.shared = &sharedState{indexes: append([]proto.IndexDescriptor(nil), c.shared.indexes...)}
	cp.pendingCommit = false
	cp.pendingCommitTs = 0
	return &cp
}

// withRenamed returns a copy addressed at a new namespace. UUID
// history is unaffected by rename; only the namespace-keyed maps and
// history vectors change.
func (c *Collection) withRenamed(ns proto.Namespace) *Collection {
	cp := *c
	cp.ns = ns
	return &cp
}

// withPendingCommit marks a descriptor as staged under the two-phase
// DDL overlay: invisible to ordinary lookups until publish. commitTs is
// the timestamp the prepare is targeting, consulted by a reader whose
// storage snapshot may already have observed it even though the
// descriptor has not reached the authoritative maps yet.
func (c *Collection) withPendingCommit(commitTs proto.Timestamp) *Collection {
	cp := *c
	cp.pendingCommit = true
	cp.pendingCommitTs = commitTs
	return &cp
}

func (c *Collection) withPublished() *Collection {
	cp := *c
	cp.pendingCommit = false
	cp.pendingCommitTs = 0
	return &cp
}

// signatureMatches reports whether this descriptor's identity and
// metadata are compatible with a durable catalog entry, i.e. it is
// safe to build a compatible clone that shares sharedState instead of
// constructing a brand-new descriptor.
func (c *Collection) signatureMatches(e *DurableEntry) bool {
	return c.ident == e.Ident && c.options.Signature() == e.Options.Signature()
}

// compatibleClone builds a descriptor for a point-in-time read that
// shares this descriptor's index definitions with the durable entry's
// catalog id and minValidSnapshot substituted in.
func (c *Collection) compatibleClone(e *DurableEntry) *Collection {
	return &Collection{
		uuid:             e.UUID,
		ns:               e.Namespace,
		ident:            e.Ident,
		catalogId:        e.CatalogId,
		minValidSnapshot: e.MinValidSnapshot,
		options:          c.options,
		shared:           c.shared,
	}
}

// newPITCollection constructs a descriptor entirely from a durable
// catalog entry, used when no compatible in-memory sibling exists.
func newPITCollection(e *DurableEntry) *Collection {
	return NewCollection(e.UUID, e.Namespace, e.Ident, e.CatalogId, e.Options, e.Indexes, e.MinValidSnapshot)
}

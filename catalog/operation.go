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

import (
	"context"
	"fmt"

	blobstoreerrors "github.com/cubefs/cubefs/blobstore/util/errors"

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/proto"
)

// Operation is component C4: the per-storage-snapshot view a caller
// holds for the duration of one read or write operation. Every
// Collection it hands back for a given UUID is the same pointer for
// the life of the Operation, regardless of how many times
// EstablishConsistentCollection is called for that key; callers from
// two different Operations get no such promise.
type Operation struct {
	catalog  *Catalog
	snapshot StorageSnapshot
	stash    map[proto.UUID]*Collection
}

// NewOperation opens an operation-scoped view against snapshot.
func NewOperation(c *Catalog, snapshot StorageSnapshot) *Operation {
	return &Operation{catalog: c, snapshot: snapshot, stash: make(map[proto.UUID]*Collection)}
}

func (o *Operation) Catalog() *Catalog        { return o.catalog }
func (o *Operation) Snapshot() StorageSnapshot { return o.snapshot }

// Stash pins coll as this operation's answer for coll.UUID().
func (o *Operation) Stash(coll *Collection) { o.stash[coll.UUID()] = coll }

// Unstash forgets a pinned answer, e.g. after a write under this
// operation invalidates it.
func (o *Operation) Unstash(id proto.UUID) { delete(o.stash, id) }

// Get returns the pinned descriptor for id, or nil if none is stashed.
func (o *Operation) Get(id proto.UUID) *Collection {
	return o.stash[id]
}

func establishKey(key proto.NamespaceOrUUID, ts proto.Timestamp) string {
	return fmt.Sprintf("%s@%d", key.String(), ts)
}

// lookupPending resolves key against the two-phase pending overlay
// only, ignoring the authoritative maps.
func lookupPending(v *Version, key proto.NamespaceOrUUID) *Collection {
	if key.IsUUID {
		return v.lookupPendingByUUID(key.ID)
	}
	return v.lookupPendingByNamespace(key.NSS)
}

// resolveHistoricalExistence consults C2 for key as of t, picking the
// namespace- or UUID-keyed history vector to match key's kind.
func resolveHistoricalExistence(v *Version, key proto.NamespaceOrUUID, t proto.Timestamp) proto.Existence {
	var existence proto.Existence
	if key.IsUUID {
		_, existence = v.history.lookupUUID(key.ID, t)
	} else {
		_, existence = v.history.lookupNamespace(key.NSS, t)
	}
	return existence
}

// EstablishConsistentCollection resolves key as of this operation's
// storage snapshot, implementing the decision tree described in the
// design:
//
//  1. if a descriptor is already stashed for this key's UUID, return it
//     unchanged: pointer stability within one operation.
//  2. if the committed in-memory descriptor's minValidSnapshot is at or
//     before the snapshot's timestamp, the in-memory state already
//     covers this read; stash and return it.
//  3. if key is staged in the two-phase pending overlay instead, it is
//     invisible to ordinary lookups; materialize it if the snapshot has
//     already observed its target commit timestamp, otherwise report it
//     absent without consulting C2 or the durable catalog at all.
//  4. otherwise consult C2: a definitively dropped key (kNotExists)
//     is reported absent without any durable I/O; only kUnknown falls
//     through to a durable catalog scan at this timestamp, coalesced
//     across concurrent callers requesting the same key and timestamp
//     via singleflight.
//
// A nil, nil result means the collection did not exist as of the
// snapshot.
func (o *Operation) EstablishConsistentCollection(ctx context.Context, key proto.NamespaceOrUUID) (*Collection, error) {
	v := o.catalog.Latest()
	committed := v.lookup(key)
	if committed != nil {
		if stashed, ok := o.stash[committed.UUID()]; ok {
			return stashed, nil
		}
		if committed.MinValidSnapshot() <= o.snapshot.Timestamp() {
			o.Stash(committed)
			return committed, nil
		}
	}

	if pending := lookupPending(v, key); pending != nil {
		if stashed, ok := o.stash[pending.UUID()]; ok {
			return stashed, nil
		}
		if !o.snapshot.HasObservedCommit(pending.PendingCommitTs()) {
			return nil, nil
		}
		materialized := pending.withPublished()
		o.Stash(materialized)
		return materialized, nil
	}

	ts := o.snapshot.Timestamp()
	if resolveHistoricalExistence(v, key, ts) == proto.NotExists {
		return nil, nil
	}

	result, err, _ := o.catalog.scanGroup.Do(establishKey(key, ts), func() (interface{}, error) {
		return o.catalog.durable.FetchEntry(ctx, key, &ts)
	})
	if err != nil {
		return nil, blobstoreerrors.Info(err, fmt.Sprintf("durable catalog scan failed for %s at ts=%d", key.String(), ts))
	}
	entry, _ := result.(*DurableEntry)
	if entry == nil {
		return nil, nil
	}
	if stashed, ok := o.stash[entry.UUID]; ok {
		return stashed, nil
	}

	var reconstructed *Collection
	if committed != nil && committed.signatureMatches(entry) {
		reconstructed = committed.compatibleClone(entry)
	} else {
		reconstructed = newPITCollection(entry)
	}
	o.Stash(reconstructed)
	return reconstructed, nil
}

// Iterator walks the committed collections of a single database in
// UUID order. It is a snapshot of orderedByDbUUID taken at
// construction time: per the catalog's iterator-equality invariant, an
// *Iterator is only meaningfully comparable to another drawn from the
// same underlying Version, never across two different ones.
type Iterator struct {
	entries []*Collection
	idx     int
}

func newIterator(v *Version, db proto.DatabaseName) *Iterator {
	var entries []*Collection
	var zero proto.UUID
	v.orderedByDbUUID.AscendGreaterOrEqual(proto.DbUUID{Db: db, Id: zero}, func(k proto.DbUUID, c *Collection) bool {
		if k.Db != db {
			return false
		}
		entries = append(entries, c)
		return true
	})
	return &Iterator{entries: entries, idx: -1}
}

// NewDatabaseIterator returns an Iterator over db's committed
// collections as of the catalog's latest published version.
func (c *Catalog) NewDatabaseIterator(db proto.DatabaseName) *Iterator {
	return newIterator(c.Latest(), db)
}

func (it *Iterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *Iterator) Collection() *Collection {
	if it.idx < 0 || it.idx >= len(it.entries) {
		return nil
	}
	return it.entries[it.idx]
}

func (it *Iterator) UUID() proto.UUID {
	if c := it.Collection(); c != nil {
		return c.UUID()
	}
	return proto.UUID{}
}

// MetadataWriteHandle is the entry point for a metadata-only write
// (index add/drop, option change) that does not change the
// collection's namespace or UUID. It holds a private clone that no
// reader can observe until Commit publishes it.
type MetadataWriteHandle struct {
	catalog *Catalog
	base    *Collection
	working *Collection
}

// LookupCollectionForMetadataWrite clones id's current committed
// descriptor for an in-place metadata write. The returned handle's
// base pointer is used as an optimistic concurrency token at Commit
// time: if another writer has replaced it in the interim, Commit fails
// with ErrWriteConflict and the caller must retry from a fresh lookup.
func (c *Catalog) LookupCollectionForMetadataWrite(id proto.UUID) (*MetadataWriteHandle, error) {
	coll := c.LookupCollectionByUUID(id)
	if coll == nil {
		return nil, apierrors.ErrNamespaceNotFound
	}
	return &MetadataWriteHandle{catalog: c, base: coll, working: coll.Clone()}, nil
}

// Collection exposes the handle's private working copy for in-place
// inspection; callers must route mutations through AddIndex,
// RemoveIndex or SetOptions rather than reaching into it directly.
func (h *MetadataWriteHandle) Collection() *Collection { return h.working }

func (h *MetadataWriteHandle) AddIndex(idx proto.IndexDescriptor) {
	h.working.shared.indexes = append(h.working.shared.indexes, idx)
}

func (h *MetadataWriteHandle) RemoveIndex(name string) {
	kept := h.working.shared.indexes[:0]
	for _, idx := range h.working.shared.indexes {
		if idx.Name != name {
			kept = append(kept, idx)
		}
	}
	h.working.shared.indexes = kept
}

func (h *MetadataWriteHandle) SetOptions(opts proto.CollectionOptions) {
	h.working.options = opts
}

// Commit publishes the working copy in place of base. It fails with
// ErrWriteConflict if base is no longer the authoritative descriptor
// for this UUID, which can only happen if a concurrent writer
// committed a different metadata write (or a drop/rename) to the same
// collection first.
func (h *MetadataWriteHandle) Commit(ctx context.Context) error {
	return h.catalog.Write(ctx, func(v *Version) (*Version, error) {
		cur := v.lookupByUUID(h.base.UUID())
		if cur == nil || cur != h.base {
			return nil, apierrors.ErrWriteConflict
		}
		return v.withCommitted(h.working), nil
	})
}

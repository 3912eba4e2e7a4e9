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

// Package catalog implements the process-wide, versioned collection
// catalog: a copy-on-write snapshot engine (Version, publisher),
// point-in-time reconstruction against a storage snapshot (Operation),
// and a drop-pending reaper coordinated with an external
// oldest-timestamp signal.
package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/proto"
)

// Catalog is the top-level entry point: the single process-wide
// instance every reader and writer goes through. It owns the
// published-version pointer (C3), the drop-pending reaper (C5), the
// durable-catalog collaborator, and the close/open epoch bookkeeping.
type Catalog struct {
	pub  *publisher
	reap *reaper

	durable   DurableCatalog
	scanGroup singleflight.Group

	cfg Config

	epoch  atomic.Uint64
	closed atomic.Bool

	shadowMu sync.RWMutex
	shadow   map[proto.UUID]proto.Namespace
}

// NewCatalog builds an empty catalog backed by durable. durable may be
// a *MemDurableCatalog for tests and embedding scenarios, or a
// production adapter around a real storage engine.
func NewCatalog(cfg Config, durable DurableCatalog) (*Catalog, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Catalog{
		pub:     newPublisher(emptyVersion()),
		reap:    newReaper(),
		durable: durable,
		cfg:     cfg,
	}
	c.reap.sweepLimit.SetLimit(uint32(cfg.ReaperSweepConcurrency))
	return c, nil
}

// Latest bypasses any operation-level stash and returns the version
// most recently published. Used to confirm whether a Collection
// instance is write-eligible.
func (c *Catalog) Latest() *Version {
	return c.pub.latest()
}

// Write executes job under the publisher's serialization and batching.
func (c *Catalog) Write(ctx context.Context, job WriteJob) error {
	err := c.pub.write(ctx, job)
	writesTotal.Inc()
	span := trace.SpanFromContextSafe(ctx)
	if err == nil {
		v := c.Latest()
		collectionsGauge.Set(float64(v.byUUID.Len()))
		dropPendingGauge.Set(float64(c.reap.pendingCollectionCount()))
	} else {
		span.Warnf("catalog write job failed: %v", err)
	}
	return err
}

// BeginBatchedWrite enters the distinguished batched-writer mode for
// bulk DDL. The caller is responsible for holding whatever exclusive
// lock its embedding system requires; the publisher only guarantees
// mutual exclusion against other Write/BeginBatchedWrite callers.
func (c *Catalog) BeginBatchedWrite() (*BatchedWriter, error) {
	return c.pub.beginBatchedWrite()
}

func tsOrZero(ts *proto.Timestamp) proto.Timestamp {
	if ts == nil {
		return 0
	}
	return *ts
}

func namespaceTaken(v *Version, ns proto.Namespace) bool {
	if v.lookupByNamespace(ns) != nil || v.lookupPendingByNamespace(ns) != nil || v.uncommittedViews.Has(ns) {
		return true
	}
	views, ok := v.viewsPerDb.Get(ns.Db)
	if !ok {
		return false
	}
	_, isView := views.lookup(ns)
	return isView
}

// RegisterCollection performs a one-phase create: it publishes coll
// directly into the authoritative maps. commitTs of nil is the
// startup-reconstruction no-op described in the design: the history
// vectors are left untouched.
func (c *Catalog) RegisterCollection(ctx context.Context, coll *Collection, commitTs *proto.Timestamp) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		if namespaceTaken(v, coll.Namespace()) {
			return nil, apierrors.ErrNamespaceExists
		}
		nv := v.withCommitted(coll)
		hist, err := nv.history.appendUUID(coll.UUID(), tsOrZero(commitTs), coll.CatalogId(), false, commitTs != nil)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		hist, err = nv.history.appendNamespace(coll.Namespace(), tsOrZero(commitTs), coll.CatalogId(), false, commitTs != nil)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		return nv, nil
	})
}

// RegisterCollectionTwoPhase stages coll in the pending overlay
// (invisible to ordinary lookups) as the prepare half of two-phase
// DDL. commitTs is the timestamp this prepare targets: a read against
// a storage snapshot that has already observed commitTs may
// materialize coll before CommitTwoPhase ever runs, per
// Operation.EstablishConsistentCollection's pending-overlay check. The
// intent-exclusive lock on the namespace this requires is an external
// precondition, asserted rather than acquired here.
func (c *Catalog) RegisterCollectionTwoPhase(ctx context.Context, coll *Collection, commitTs proto.Timestamp) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		if namespaceTaken(v, coll.Namespace()) {
			return nil, apierrors.ErrNamespaceExists
		}
		return v.withPendingInsert(coll, commitTs), nil
	})
}

// CommitTwoPhase is the publish half: it flips the pending descriptor
// into the authoritative maps and appends its create entries to C2.
// Called from the storage snapshot's commit hook.
func (c *Catalog) CommitTwoPhase(ctx context.Context, ns proto.Namespace, id proto.UUID, commitTs proto.Timestamp) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		coll := v.lookupPendingByUUID(id)
		if coll == nil {
			return nil, apierrors.ErrNamespaceNotFound
		}
		nv := v.withoutPending(ns, id)
		nv = nv.withCommitted(coll)
		hist, err := nv.history.appendUUID(id, commitTs, coll.CatalogId(), false, true)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		hist, err = nv.history.appendNamespace(ns, commitTs, coll.CatalogId(), false, true)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		return nv, nil
	})
}

// RollbackTwoPhase is invoked from the storage snapshot's rollback
// hook, or from an operation's rollback handler if it is killed while
// its DDL is still pending: it discards the overlay entries and
// forgets the descriptor entirely.
func (c *Catalog) RollbackTwoPhase(ctx context.Context, ns proto.Namespace, id proto.UUID) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		return v.withoutPending(ns, id), nil
	})
}

// DeregisterCollection removes id from the authoritative maps and
// appends a drop entry to C2. If isDropPending is set, the returned
// descriptor is additionally handed to the reaper keyed by its storage
// ident, so it stays reachable for stragglers until notifyIdentDropped
// fires or no strong reference survives, whichever comes first.
func (c *Catalog) DeregisterCollection(ctx context.Context, id proto.UUID, isDropPending bool, commitTs proto.Timestamp) (*Collection, error) {
	var dropped *Collection
	err := c.Write(ctx, func(v *Version) (*Version, error) {
		coll := v.lookupByUUID(id)
		if coll == nil {
			return nil, apierrors.ErrNamespaceNotFound
		}
		dropped = coll
		nv := v.withDropped(id)
		hist, err := nv.history.appendUUID(id, commitTs, 0, true, true)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		hist, err = nv.history.appendNamespace(coll.Namespace(), commitTs, 0, true, true)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		return nv, nil
	})
	if err != nil {
		return nil, err
	}
	if isDropPending {
		c.reap.trackDropPendingCollection(dropped.Ident(), dropped)
		trace.SpanFromContextSafe(ctx).Infof("collection %s (ident %s) moved to drop-pending at ts=%d", dropped.Namespace(), dropped.Ident(), commitTs)
	}
	return dropped, nil
}

// DeregisterIndex marks idx as drop-pending under its own storage
// ident, the same pattern DeregisterCollection uses for collections.
// idx must be the caller's own live pointer, not a copy: the reaper
// only tracks it weakly, so an external strong reference (e.g. a live
// cursor still holding idx) is what keeps it reachable until
// notifyIdentDropped fires.
func (c *Catalog) DeregisterIndex(ident proto.Ident, idx *proto.IndexDescriptor) {
	c.reap.trackDropPendingIndex(ident, idx)
}

// LookupDropPendingIndex returns the still-referenced index descriptor
// for ident, or nil if it has already been reaped, was never tracked,
// or has been notified dropped.
func (c *Catalog) LookupDropPendingIndex(ident proto.Ident) *proto.IndexDescriptor {
	return c.reap.lookupDropPendingIndex(ident)
}

// RenameCollection moves id from its current namespace to to,
// appending a drop entry under the old namespace and a create entry
// under the new one at the same commit timestamp. UUID history is
// untouched: renames do not create or drop the collection's identity.
func (c *Catalog) RenameCollection(ctx context.Context, id proto.UUID, to proto.Namespace, commitTs proto.Timestamp) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		coll := v.lookupByUUID(id)
		if coll == nil {
			return nil, apierrors.ErrNamespaceNotFound
		}
		if namespaceTaken(v, to) {
			return nil, apierrors.ErrNamespaceExists
		}
		from := coll.Namespace()
		nv, renamed := v.withRenamed(id, to)
		hist, err := nv.history.appendNamespace(from, commitTs, 0, true, true)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		hist, err = nv.history.appendNamespace(to, commitTs, renamed.CatalogId(), false, true)
		if err != nil {
			return nil, err
		}
		nv.history = hist
		return nv, nil
	})
}

// DeregisterAllCollectionsAndViews requires an external exclusive
// global lock and is used to reset the catalog for a fresh load, e.g.
// during a resync.
func (c *Catalog) DeregisterAllCollectionsAndViews(ctx context.Context) error {
	return c.Write(ctx, func(_ *Version) (*Version, error) {
		return emptyVersion(), nil
	})
}

// LookupCollectionByUUID returns the committed descriptor for id, or
// nil if id is not currently mapped (dropped, never created, or only
// present in the pending overlay).
func (c *Catalog) LookupCollectionByUUID(id proto.UUID) *Collection {
	return c.Latest().lookupByUUID(id)
}

func (c *Catalog) LookupCollectionByNamespace(ns proto.Namespace) *Collection {
	return c.Latest().lookupByNamespace(ns)
}

func (c *Catalog) LookupCollection(key proto.NamespaceOrUUID) *Collection {
	return c.Latest().lookup(key)
}

// LookupCatalogIdByNSS resolves ns's physical CatalogId. A nil ts asks
// about the current in-memory state; a non-nil ts consults C2's
// history vector for ns.
func (c *Catalog) LookupCatalogIdByNSS(ns proto.Namespace, ts *proto.Timestamp) (proto.CatalogId, proto.Existence) {
	v := c.Latest()
	if ts == nil {
		if coll := v.lookupByNamespace(ns); coll != nil {
			return coll.CatalogId(), proto.Exists
		}
		return 0, proto.NotExists
	}
	return v.history.lookupNamespace(ns, *ts)
}

func (c *Catalog) LookupCatalogIdByUUID(id proto.UUID, ts *proto.Timestamp) (proto.CatalogId, proto.Existence) {
	v := c.Latest()
	if ts == nil {
		if coll := v.lookupByUUID(id); coll != nil {
			return coll.CatalogId(), proto.Exists
		}
		return 0, proto.NotExists
	}
	return v.history.lookupUUID(id, *ts)
}

// GetAllDbNames enumerates every database with at least one committed
// collection, in ordered-map iteration order.
func (c *Catalog) GetAllDbNames() []proto.DatabaseName {
	v := c.Latest()
	seen := make(map[proto.DatabaseName]struct{})
	var out []proto.DatabaseName
	v.orderedByDbUUID.Ascend(func(k proto.DbUUID, _ *Collection) bool {
		if _, ok := seen[k.Db]; !ok {
			seen[k.Db] = struct{}{}
			out = append(out, k.Db)
		}
		return true
	})
	return out
}

func (c *Catalog) GetAllDbNamesForTenant(tenant proto.TenantId) []proto.DatabaseName {
	var out []proto.DatabaseName
	for _, db := range c.GetAllDbNames() {
		if db.Tenant == tenant {
			out = append(out, db)
		}
	}
	return out
}

func (c *Catalog) GetAllTenants() []proto.TenantId {
	seen := make(map[proto.TenantId]struct{})
	var out []proto.TenantId
	for _, db := range c.GetAllDbNames() {
		if _, ok := seen[db.Tenant]; !ok {
			seen[db.Tenant] = struct{}{}
			out = append(out, db.Tenant)
		}
	}
	return out
}

func (c *Catalog) GetAllCollectionUUIDsFromDb(db proto.DatabaseName) []proto.UUID {
	var out []proto.UUID
	it := newIterator(c.Latest(), db)
	for it.Next() {
		out = append(out, it.UUID())
	}
	return out
}

func (c *Catalog) GetAllCollectionNamesFromDb(db proto.DatabaseName) []string {
	var out []string
	it := newIterator(c.Latest(), db)
	for it.Next() {
		out = append(out, it.Collection().Namespace().Collection)
	}
	return out
}

// NotifyIdentDropped tells the reaper that ident's backing storage has
// been removed from disk.
func (c *Catalog) NotifyIdentDropped(ident proto.Ident) {
	c.reap.notifyIdentDropped(ident)
}

// NeedsCleanupForOldestTimestamp lets a caller cheaply check whether
// CleanupForOldestTimestampAdvanced(t) would do any work at all.
func (c *Catalog) NeedsCleanupForOldestTimestamp(t proto.Timestamp) bool {
	return c.Latest().history.needsCleanupForOldest(t)
}

// CleanupForOldestTimestampAdvanced prunes C2 history vectors that are
// now entirely older than t and sweeps any drop-pending entries whose
// weak reference has already expired.
func (c *Catalog) CleanupForOldestTimestampAdvanced(ctx context.Context, t proto.Timestamp) error {
	if !c.NeedsCleanupForOldestTimestamp(t) {
		return nil
	}
	if err := c.Write(ctx, func(v *Version) (*Version, error) {
		return v.withHistoryPruned(t), nil
	}); err != nil {
		return err
	}
	reaped := c.reap.sweep()
	reapedTotal.Add(float64(reaped))
	trace.SpanFromContextSafe(ctx).Infof("oldest timestamp advanced to %d: pruned history, reaped %d drop-pending entries", t, reaped)
	return nil
}

// CleanupForCatalogReopen re-applies oldest-timestamp pruning against
// the stable timestamp recovered at storage-engine restart.
func (c *Catalog) CleanupForCatalogReopen(ctx context.Context, stable proto.Timestamp) error {
	return c.CleanupForOldestTimestampAdvanced(ctx, stable)
}

// OnCloseCatalog puts the catalog in the closed state used during
// storage engine restart: it snapshots UUID->namespace into a shadow
// table and empties the authoritative maps.
func (c *Catalog) OnCloseCatalog(ctx context.Context) error {
	v := c.Latest()
	shadow := make(map[proto.UUID]proto.Namespace, v.byUUID.Len())
	v.byUUID.Ascend(func(id proto.UUID, coll *Collection) bool {
		shadow[id] = coll.Namespace()
		return true
	})
	c.shadowMu.Lock()
	c.shadow = shadow
	c.shadowMu.Unlock()
	c.closed.Store(true)
	trace.SpanFromContextSafe(ctx).Infof("catalog closed with %d collections shadowed", len(shadow))

	return c.Write(ctx, func(_ *Version) (*Version, error) {
		return emptyVersion(), nil
	})
}

// OnOpenCatalog drops the shadow table and bumps the epoch, so any
// long-running operation that resumes across the close can detect the
// intervening invalidation.
func (c *Catalog) OnOpenCatalog(ctx context.Context) error {
	c.shadowMu.Lock()
	c.shadow = nil
	c.shadowMu.Unlock()
	c.closed.Store(false)
	newEpoch := c.epoch.Add(1)
	trace.SpanFromContextSafe(ctx).Infof("catalog reopened at epoch %d", newEpoch)
	return nil
}

func (c *Catalog) GetEpoch() uint64 { return c.epoch.Load() }

func (c *Catalog) IsClosed() bool { return c.closed.Load() }

// LookupNSSByUUIDDuringClose serves UUID->namespace resolution for
// auth, replication and other cross-component lookups while the
// primary maps are temporarily empty.
func (c *Catalog) LookupNSSByUUIDDuringClose(id proto.UUID) (proto.Namespace, bool) {
	c.shadowMu.RLock()
	defer c.shadowMu.RUnlock()
	ns, ok := c.shadow[id]
	return ns, ok
}

// SetProfileSettings sets db's profiling level and filter. -1 is a
// request to leave the current level unchanged.
func (c *Catalog) SetProfileSettings(ctx context.Context, db proto.DatabaseName, s ProfileSettings) error {
	if s.Level == -1 {
		s.Level = c.GetProfileSettings(db).Level
	}
	if s.Level < 0 || s.Level > 2 {
		return apierrors.ErrInvalidProfileLevel
	}
	return c.Write(ctx, func(v *Version) (*Version, error) {
		return v.withProfileSettings(db, s), nil
	})
}

func (c *Catalog) GetProfileSettings(db proto.DatabaseName) ProfileSettings {
	if s, ok := c.Latest().profiles.Get(db); ok {
		return s
	}
	return ProfileSettings{Level: c.cfg.DefaultProfileLevel}
}

func (c *Catalog) Stats() Stats { return c.Latest().Stats() }

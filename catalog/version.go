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
	"github.com/cubefs/coldb/internal/pmap"
	"github.com/cubefs/coldb/proto"
)

// ViewsForDatabase is the value-typed, per-database view map. It is
// reloaded wholesale from the well-known system.views collection and
// swapped into viewsPerDb by writers.
type ViewsForDatabase struct {
	views *pmap.Map[proto.Namespace, proto.ViewDefinition]
}

func newViewsForDatabase() ViewsForDatabase {
	return ViewsForDatabase{views: pmap.New[proto.Namespace, proto.ViewDefinition](proto.Namespace.Less)}
}

func (v ViewsForDatabase) lookup(ns proto.Namespace) (proto.ViewDefinition, bool) {
	if v.views == nil {
		return proto.ViewDefinition{}, false
	}
	return v.views.Get(ns)
}

func (v ViewsForDatabase) put(def proto.ViewDefinition) ViewsForDatabase {
	if v.views == nil {
		v = newViewsForDatabase()
	}
	return ViewsForDatabase{views: v.views.Put(def.Namespace, def)}
}

func (v ViewsForDatabase) remove(ns proto.Namespace) ViewsForDatabase {
	if v.views == nil {
		return v
	}
	return ViewsForDatabase{views: v.views.Delete(ns)}
}

// Version is a single, immutable, atomically published state of the
// entire in-memory catalog (component C1's maps plus component C2's
// history). Once published it is never mutated; every write produces
// a new Version via clone-then-modify.
type Version struct {
	byUUID           *pmap.Map[proto.UUID, *Collection]
	byNamespace      *pmap.Map[proto.Namespace, *Collection]
	orderedByDbUUID  *pmap.Map[proto.DbUUID, *Collection]

	pendingByNamespace *pmap.Map[proto.Namespace, *Collection]
	pendingByUUID      *pmap.Map[proto.UUID, *Collection]

	uncommittedViews *pmap.Set[proto.Namespace]
	viewsPerDb       *pmap.Map[proto.DatabaseName, ViewsForDatabase]

	history catalogIdHistory

	profiles *pmap.Map[proto.DatabaseName, ProfileSettings]
}

// ProfileSettings is the per-database profiling configuration.
type ProfileSettings struct {
	Level  int
	Filter string // opaque filter expression; empty means "no filter"
}

func emptyVersion() *Version {
	return &Version{
		byUUID:             pmap.New[proto.UUID, *Collection](proto.LessUUID),
		byNamespace:        pmap.New[proto.Namespace, *Collection](proto.Namespace.Less),
		orderedByDbUUID:    pmap.New[proto.DbUUID, *Collection](proto.DbUUID.Less),
		pendingByNamespace: pmap.New[proto.Namespace, *Collection](proto.Namespace.Less),
		pendingByUUID:      pmap.New[proto.UUID, *Collection](proto.LessUUID),
		uncommittedViews:   pmap.NewSet[proto.Namespace](proto.Namespace.Less),
		viewsPerDb:         pmap.New[proto.DatabaseName, ViewsForDatabase](proto.DatabaseName.Less),
		history:            newCatalogIdHistory(),
		profiles:           pmap.New[proto.DatabaseName, ProfileSettings](proto.DatabaseName.Less),
	}
}

// clone is the O(1) copy-on-write step: every persistent map inside a
// Version shares its underlying B-tree nodes with the clone until a
// subsequent write touches a given path.
func (v *Version) clone() *Version {
	cp := *v
	return &cp
}

func dbUUIDKey(c *Collection) proto.DbUUID {
	return proto.DbUUID{Db: c.Namespace().Db, Id: c.UUID()}
}

// withCommitted inserts coll into the three authoritative maps,
// satisfying invariant 1: a Collection appears in byUuid, byNamespace
// and orderedByDbUuid iff committed and not dropped.
func (v *Version) withCommitted(coll *Collection) *Version {
	nv := v.clone()
	published := coll.withPublished()
	nv.byUUID = nv.byUUID.Put(published.UUID(), published)
	nv.byNamespace = nv.byNamespace.Put(published.Namespace(), published)
	nv.orderedByDbUUID = nv.orderedByDbUUID.Put(dbUUIDKey(published), published)
	return nv
}

// replaceCollection re-points the three authoritative maps at coll in
// place of whatever is currently keyed by its UUID, without altering
// its pending-commit state the way withCommitted's withPublished call
// would. Used by BatchedWriter.EditCollection to keep a batch's cloned
// descriptor pointer stable across repeated edits within one batch.
func (v *Version) replaceCollection(coll *Collection) *Version {
	nv := v.clone()
	nv.byUUID = nv.byUUID.Put(coll.UUID(), coll)
	nv.byNamespace = nv.byNamespace.Put(coll.Namespace(), coll)
	nv.orderedByDbUUID = nv.orderedByDbUUID.Put(dbUUIDKey(coll), coll)
	return nv
}

// withDropped removes coll's UUID from the three authoritative maps.
func (v *Version) withDropped(id proto.UUID) *Version {
	coll, ok := v.byUUID.Get(id)
	if !ok {
		return v
	}
	nv := v.clone()
	nv.byUUID = nv.byUUID.Delete(id)
	nv.byNamespace = nv.byNamespace.Delete(coll.Namespace())
	nv.orderedByDbUUID = nv.orderedByDbUUID.Delete(dbUUIDKey(coll))
	return nv
}

// withRenamed moves a committed collection from one namespace to
// another, preserving its UUID history.
func (v *Version) withRenamed(id proto.UUID, to proto.Namespace) (*Version, *Collection) {
	coll, ok := v.byUUID.Get(id)
	if !ok {
		return v, nil
	}
	renamed := coll.withRenamed(to)
	nv := v.clone()
	nv.byNamespace = nv.byNamespace.Delete(coll.Namespace())
	nv.byUUID = nv.byUUID.Put(id, renamed)
	nv.byNamespace = nv.byNamespace.Put(to, renamed)
	nv.orderedByDbUUID = nv.orderedByDbUUID.Delete(dbUUIDKey(coll))
	nv.orderedByDbUUID = nv.orderedByDbUUID.Put(dbUUIDKey(renamed), renamed)
	return nv, renamed
}

// withPendingInsert stages coll under the two-phase overlay: invisible
// to ordinary lookups (invariant 2 keeps it out of byNamespace at the
// same time). commitTs is the timestamp the prepare targets; a read
// against a storage snapshot that has already observed it may still
// materialize the pending descriptor before CommitTwoPhase runs.
func (v *Version) withPendingInsert(coll *Collection, commitTs proto.Timestamp) *Version {
	nv := v.clone()
	pending := coll.withPendingCommit(commitTs)
	nv.pendingByNamespace = nv.pendingByNamespace.Put(pending.Namespace(), pending)
	nv.pendingByUUID = nv.pendingByUUID.Put(pending.UUID(), pending)
	return nv
}

func (v *Version) withoutPending(ns proto.Namespace, id proto.UUID) *Version {
	nv := v.clone()
	nv.pendingByNamespace = nv.pendingByNamespace.Delete(ns)
	nv.pendingByUUID = nv.pendingByUUID.Delete(id)
	return nv
}

func (v *Version) withHistoryPruned(oldest proto.Timestamp) *Version {
	nv := v.clone()
	nv.history = nv.history.pruneOlderThan(oldest)
	return nv
}

func (v *Version) withUncommittedView(ns proto.Namespace) *Version {
	nv := v.clone()
	nv.uncommittedViews = nv.uncommittedViews.Add(ns)
	return nv
}

func (v *Version) withoutUncommittedView(ns proto.Namespace) *Version {
	nv := v.clone()
	nv.uncommittedViews = nv.uncommittedViews.Remove(ns)
	return nv
}

func (v *Version) withViewsForDatabase(db proto.DatabaseName, views ViewsForDatabase) *Version {
	nv := v.clone()
	nv.viewsPerDb = nv.viewsPerDb.Put(db, views)
	return nv
}

func (v *Version) withProfileSettings(db proto.DatabaseName, s ProfileSettings) *Version {
	nv := v.clone()
	nv.profiles = nv.profiles.Put(db, s)
	return nv
}

// lookupByUUID returns the committed descriptor for id, ignoring the
// pending overlay.
func (v *Version) lookupByUUID(id proto.UUID) *Collection {
	c, ok := v.byUUID.Get(id)
	if !ok {
		return nil
	}
	return c
}

func (v *Version) lookupByNamespace(ns proto.Namespace) *Collection {
	c, ok := v.byNamespace.Get(ns)
	if !ok {
		return nil
	}
	return c
}

func (v *Version) lookupPendingByNamespace(ns proto.Namespace) *Collection {
	c, ok := v.pendingByNamespace.Get(ns)
	if !ok {
		return nil
	}
	return c
}

func (v *Version) lookupPendingByUUID(id proto.UUID) *Collection {
	c, ok := v.pendingByUUID.Get(id)
	if !ok {
		return nil
	}
	return c
}

// lookup resolves the disjunctive key against the committed maps only.
func (v *Version) lookup(key proto.NamespaceOrUUID) *Collection {
	if key.IsUUID {
		return v.lookupByUUID(key.ID)
	}
	return v.lookupByNamespace(key.NSS)
}

// ProfileSettingsFor returns the profiling configuration for db,
// defaulting to level 0 with no filter.
func (v *Version) ProfileSettingsFor(db proto.DatabaseName) ProfileSettings {
	s, ok := v.profiles.Get(db)
	if !ok {
		return ProfileSettings{Level: 0}
	}
	return s
}

// Stats summarizes collection counts across the whole catalog, split
// the way the external "profiling & stats" surface groups them.
type Stats struct {
	User      int
	Internal  int
	Capped    int
	Clustered int
}

func (v *Version) Stats() Stats {
	var s Stats
	v.byUUID.Ascend(func(_ proto.UUID, c *Collection) bool {
		if c.Options().Internal {
			s.Internal++
		} else {
			s.User++
		}
		if c.Options().Capped {
			s.Capped++
		}
		if c.Options().Clustered {
			s.Clustered++
		}
		return true
	})
	return s
}

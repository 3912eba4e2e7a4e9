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
	"sort"

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/internal/pmap"
	"github.com/cubefs/coldb/proto"
)

// historyEntry is one point in a key's timeline: either a create
// (Dropped == false, CatalogId meaningful) or a drop (Dropped == true).
type historyEntry struct {
	ts        proto.Timestamp
	catalogId proto.CatalogId
	dropped   bool
}

// history is the short, strictly time-ordered vector of historyEntry
// for a single namespace or UUID. It answers "at time t, did this
// exist, and under what CatalogId" per the algorithm in the design:
// binary search for the last entry at or before t.
type history struct {
	entries []historyEntry
}

// append adds a new entry. The commit timestamp must be strictly
// greater than every existing entry's timestamp for this key; writers
// are serialized by the publisher so this is a program invariant, not
// a race. hasTs == false (used by startup reconstruction, "None"
// timestamp in the design) makes it a documented no-op.
func (h history) append(ts proto.Timestamp, catalogId proto.CatalogId, dropped bool, hasTs bool) (history, error) {
	if !hasTs {
		return h, nil
	}
	if len(h.entries) > 0 && ts <= h.entries[len(h.entries)-1].ts {
		return h, apierrors.ErrWriteConflict
	}
	next := append(append([]historyEntry(nil), h.entries...), historyEntry{ts: ts, catalogId: catalogId, dropped: dropped})
	return history{entries: next}, nil
}

// resolve implements the three-outcome lookup described in the
// design: kExists / kNotExists / kUnknown.
func (h history) resolve(t proto.Timestamp, oldestMaintained proto.Timestamp) (proto.CatalogId, proto.Existence) {
	idx := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].ts > t }) - 1
	if idx < 0 {
		if t >= oldestMaintained {
			return 0, proto.NotExists
		}
		return 0, proto.Unknown
	}
	e := h.entries[idx]
	if e.dropped {
		return 0, proto.NotExists
	}
	return e.catalogId, proto.Exists
}

// endsInCreate reports whether the most recent entry is a create,
// i.e. the key is currently committed (invariant 4 in the spec).
func (h history) endsInCreate() bool {
	if len(h.entries) == 0 {
		return false
	}
	return !h.entries[len(h.entries)-1].dropped
}

// lastCreateTimestamp returns the timestamp of the most recent create
// entry, used to check invariant 5 (minValidSnapshot consistency).
func (h history) lastCreateTimestamp() (proto.Timestamp, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if !h.entries[i].dropped {
			return h.entries[i].ts, true
		}
	}
	return 0, false
}

// prune discards all but the last two entries once every discarded
// entry is older than oldest. If the entire vector is older than
// oldest and its tail is a drop, the whole vector is removed.
func (h history) prune(oldest proto.Timestamp) (result history, removeAll bool) {
	if len(h.entries) == 0 {
		return h, false
	}
	last := h.entries[len(h.entries)-1]
	if last.ts < oldest && last.dropped {
		return history{}, true
	}
	if len(h.entries) <= 2 {
		return h, false
	}
	// Only discard entries strictly older than oldest; otherwise a
	// caller could still legitimately ask about a timestamp we'd be
	// discarding history for.
	cut := len(h.entries) - 2
	for cut > 0 && h.entries[cut-1].ts >= oldest {
		cut--
	}
	if cut == 0 {
		return h, false
	}
	kept := append([]historyEntry(nil), h.entries[cut:]...)
	return history{entries: kept}, false
}

// isEmpty reports whether the vector has no retained entries at all.
func (h history) isEmpty() bool { return len(h.entries) == 0 }

// catalogIdHistory is component C2: the pair of persistent maps from
// namespace and from UUID to their history vectors, plus the pruning
// bookkeeping (needs-cleanup marks and the cached lowest cleanup
// timestamp).
type catalogIdHistory struct {
	byNamespace *pmap.Map[proto.Namespace, history]
	byUUID      *pmap.Map[proto.UUID, history]

	nsChanges   *pmap.Set[proto.Namespace]
	uuidChanges *pmap.Set[proto.UUID]

	oldestMaintained       proto.Timestamp
	lowestCleanupTimestamp proto.Timestamp
}

func newCatalogIdHistory() catalogIdHistory {
	return catalogIdHistory{
		byNamespace: pmap.New[proto.Namespace, history](proto.Namespace.Less),
		byUUID:      pmap.New[proto.UUID, history](proto.LessUUID),
		nsChanges:   pmap.NewSet[proto.Namespace](proto.Namespace.Less),
		uuidChanges: pmap.NewSet[proto.UUID](proto.LessUUID),
	}
}

func (c catalogIdHistory) lookupNamespace(ns proto.Namespace, t proto.Timestamp) (proto.CatalogId, proto.Existence) {
	h, _ := c.byNamespace.Get(ns)
	return h.resolve(t, c.oldestMaintained)
}

func (c catalogIdHistory) lookupUUID(id proto.UUID, t proto.Timestamp) (proto.CatalogId, proto.Existence) {
	h, _ := c.byUUID.Get(id)
	return h.resolve(t, c.oldestMaintained)
}

// appendNamespace records a create/rename/drop entry for ns and
// returns the new C2 state. A zero commitTs with hasTs=false makes it
// a documented no-op, used during startup reconstruction. A key that
// gains an entry is marked in nsChanges, so pruneOlderThan need not
// revisit every namespace ever seen, only ones that changed since the
// last prune.
func (c catalogIdHistory) appendNamespace(ns proto.Namespace, ts proto.Timestamp, catalogId proto.CatalogId, dropped, hasTs bool) (catalogIdHistory, error) {
	cur, _ := c.byNamespace.Get(ns)
	next, err := cur.append(ts, catalogId, dropped, hasTs)
	if err != nil {
		return c, err
	}
	if !hasTs {
		return c, nil
	}
	c.byNamespace = c.byNamespace.Put(ns, next)
	c.nsChanges = c.nsChanges.Add(ns)
	if c.lowestCleanupTimestamp == 0 || ts < c.lowestCleanupTimestamp {
		c.lowestCleanupTimestamp = ts
	}
	return c, nil
}

func (c catalogIdHistory) appendUUID(id proto.UUID, ts proto.Timestamp, catalogId proto.CatalogId, dropped, hasTs bool) (catalogIdHistory, error) {
	cur, _ := c.byUUID.Get(id)
	next, err := cur.append(ts, catalogId, dropped, hasTs)
	if err != nil {
		return c, err
	}
	if !hasTs {
		return c, nil
	}
	c.byUUID = c.byUUID.Put(id, next)
	c.uuidChanges = c.uuidChanges.Add(id)
	if c.lowestCleanupTimestamp == 0 || ts < c.lowestCleanupTimestamp {
		c.lowestCleanupTimestamp = ts
	}
	return c, nil
}

// needsCleanupForOldest lets the reaper loop skip work cheaply: no key
// could possibly be prunable if oldest hasn't reached the lowest
// timestamp we've ever recorded.
func (c catalogIdHistory) needsCleanupForOldest(t proto.Timestamp) bool {
	return t >= c.lowestCleanupTimestamp
}

// pruneOlderThan applies history.prune to every namespace and UUID
// vector marked in nsChanges/uuidChanges, removing vectors entirely once
// their last entry is a drop older than t, and advancing
// oldestMaintained. Unmarked vectors are carried over untouched: they
// were already as pruned as they could be. A vector that still has more
// than two entries after pruning, or whose last entry is a drop, is left
// marked, since a later prune at a larger t may cut or remove it; one
// that settled at two or fewer entries ending in a create is unmarked
// until its next append.
func (c catalogIdHistory) pruneOlderThan(t proto.Timestamp) catalogIdHistory {
	next := c

	nsChanges := pmap.NewSet[proto.Namespace](proto.Namespace.Less)
	c.nsChanges.Ascend(func(ns proto.Namespace) bool {
		h, ok := c.byNamespace.Get(ns)
		if !ok {
			return true
		}
		pruned, removeAll := h.prune(t)
		if removeAll {
			next.byNamespace = next.byNamespace.Delete(ns)
			return true
		}
		next.byNamespace = next.byNamespace.Put(ns, pruned)
		if len(pruned.entries) > 2 || !pruned.endsInCreate() {
			nsChanges = nsChanges.Add(ns)
		}
		return true
	})
	next.nsChanges = nsChanges

	uuidChanges := pmap.NewSet[proto.UUID](proto.LessUUID)
	c.uuidChanges.Ascend(func(id proto.UUID) bool {
		h, ok := c.byUUID.Get(id)
		if !ok {
			return true
		}
		pruned, removeAll := h.prune(t)
		if removeAll {
			next.byUUID = next.byUUID.Delete(id)
			return true
		}
		next.byUUID = next.byUUID.Put(id, pruned)
		if len(pruned.entries) > 2 || !pruned.endsInCreate() {
			uuidChanges = uuidChanges.Add(id)
		}
		return true
	})
	next.uuidChanges = uuidChanges

	next.oldestMaintained = t
	next.lowestCleanupTimestamp = t
	return next
}

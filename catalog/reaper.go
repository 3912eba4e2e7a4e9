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
	"sync"
	"sync/atomic"
	"weak"

	"golang.org/x/time/rate"

	"github.com/cubefs/coldb/proto"
	"github.com/cubefs/coldb/util/limiter"
)

// dropPendingEntry holds a weak handle to a collection descriptor. A
// collection entry is removed as soon as either of two things happens:
// notifyIdentDropped deletes it outright, or sweep finds that the weak
// reference no longer upgrades (no external strong reference survives).
// The dropped flag is not set for collection entries, since
// notifyIdentDropped removes them instead of marking them.
type dropPendingEntry struct {
	ref     weak.Pointer[Collection]
	dropped bool
}

// dropPendingIndexEntry is dropPendingEntry's counterpart for index
// descriptors, which have no relation to Collection's type and so need
// their own weak.Pointer instantiation.
type dropPendingIndexEntry struct {
	ref     weak.Pointer[proto.IndexDescriptor]
	dropped bool
}

// reaper is component C5. It tracks drop-pending collections and
// indexes by storage ident and releases bookkeeping for them once the
// storage engine confirms the ident is gone, coordinated with the
// external oldest-timestamp signal that drives history pruning.
type reaper struct {
	mu          sync.Mutex
	collections map[proto.Ident]*dropPendingEntry
	indexes     map[proto.Ident]*dropPendingIndexEntry

	// sweepLimit bounds how many idents a single reap sweep inspects
	// concurrently, so a burst of drops doesn't spin up unbounded work.
	sweepLimit limiter.CountLimit

	// sweepPacer bounds how often a full sweep runs at all. Oldest
	// timestamp advancement can be signaled far more often than a sweep
	// is worth paying for; sweep() declines to run at all once the pacer
	// is exhausted rather than blocking its caller.
	sweepPacer *rate.Limiter
}

func newReaper() *reaper {
	return &reaper{
		collections: make(map[proto.Ident]*dropPendingEntry),
		indexes:     make(map[proto.Ident]*dropPendingIndexEntry),
		sweepLimit:  limiter.NewCountLimit(64),
		sweepPacer:  rate.NewLimiter(rate.Limit(50), 50),
	}
}

// trackDropPendingCollection records coll as drop-pending under ident.
// The catalog no longer serves lookups for it; only a caller already
// holding a strong reference (e.g. a live cursor) keeps it alive.
func (r *reaper) trackDropPendingCollection(ident proto.Ident, coll *Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[ident] = &dropPendingEntry{ref: weak.Make(coll)}
}

func (r *reaper) trackDropPendingIndex(ident proto.Ident, idx *proto.IndexDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[ident] = &dropPendingIndexEntry{ref: weak.Make(idx)}
}

// lookupDropPendingCollection returns the descriptor if its weak
// reference is still upgradable, or nil if it has already been
// collected or the ident isn't tracked at all.
func (r *reaper) lookupDropPendingCollection(ident proto.Ident) *Collection {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.collections[ident]
	if !ok {
		return nil
	}
	return e.ref.Value()
}

// lookupDropPendingIndex returns the index descriptor if its weak
// reference is still upgradable and the ident has not been
// notified-dropped; otherwise nothing, per the design's lookup
// contract for drop-pending indexes.
func (r *reaper) lookupDropPendingIndex(ident proto.Ident) *proto.IndexDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.indexes[ident]
	if !ok || e.dropped {
		return nil
	}
	return e.ref.Value()
}

// notifyIdentDropped is called by the storage engine once ident has
// been removed from disk. The bookkeeping entry is removed
// immediately for collections (any surviving external reference now
// points at a descriptor whose backing storage is gone, but no new
// lookup can produce it, bounding the leak); index entries are merely
// marked, since lookupDropPendingIndex must still report their
// absence explicitly rather than via a dangling weak reference.
func (r *reaper) notifyIdentDropped(ident proto.Ident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collections, ident)
	if e, ok := r.indexes[ident]; ok {
		e.dropped = true
	}
}

// sweep drops bookkeeping entries whose weak reference has already
// expired, freeing the map slot itself. It inspects collections and
// notified-dropped indexes concurrently, up to sweepLimit's bound, and
// is safe to call concurrently with lookups and notifications.
func (r *reaper) sweep() (reaped int) {
	if !r.sweepPacer.Allow() {
		return 0
	}

	var reapedCount int64
	var wg sync.WaitGroup

	r.mu.Lock()
	idents := make([]proto.Ident, 0, len(r.collections))
	for ident := range r.collections {
		idents = append(idents, ident)
	}
	r.mu.Unlock()

	for _, ident := range idents {
		if r.sweepLimit.Acquire() != nil {
			continue
		}
		wg.Add(1)
		go func(ident proto.Ident) {
			defer wg.Done()
			defer r.sweepLimit.Release()
			r.mu.Lock()
			if e, ok := r.collections[ident]; ok && e.ref.Value() == nil {
				delete(r.collections, ident)
				atomic.AddInt64(&reapedCount, 1)
			}
			r.mu.Unlock()
		}(ident)
	}

	r.mu.Lock()
	indexIdents := make([]proto.Ident, 0, len(r.indexes))
	for ident := range r.indexes {
		indexIdents = append(indexIdents, ident)
	}
	r.mu.Unlock()

	for _, ident := range indexIdents {
		if r.sweepLimit.Acquire() != nil {
			continue
		}
		wg.Add(1)
		go func(ident proto.Ident) {
			defer wg.Done()
			defer r.sweepLimit.Release()
			r.mu.Lock()
			if e, ok := r.indexes[ident]; ok && e.dropped && e.ref.Value() == nil {
				delete(r.indexes, ident)
				atomic.AddInt64(&reapedCount, 1)
			}
			r.mu.Unlock()
		}(ident)
	}

	wg.Wait()
	return int(reapedCount)
}

func (r *reaper) pendingCollectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collections)
}

func (r *reaper) pendingIndexCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.indexes)
}

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
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/coldb/proto"
)

func TestReaperLookupDropPendingCollection(t *testing.T) {
	r := newReaper()
	ns := proto.NewNamespace("db", "coll")
	ident := proto.Ident("ident-1")
	coll := NewCollection(proto.NewUUID(), ns, ident, 1, proto.CollectionOptions{}, nil, 0)

	r.trackDropPendingCollection(ident, coll)
	require.Same(t, coll, r.lookupDropPendingCollection(ident))
	require.Equal(t, 1, r.pendingCollectionCount())
}

func TestReaperNotifyIdentDroppedRemovesCollectionEntry(t *testing.T) {
	r := newReaper()
	ident := proto.Ident("ident-1")
	coll := NewCollection(proto.NewUUID(), proto.NewNamespace("db", "coll"), ident, 1, proto.CollectionOptions{}, nil, 0)
	r.trackDropPendingCollection(ident, coll)

	r.notifyIdentDropped(ident)
	require.Equal(t, 0, r.pendingCollectionCount())
}

func TestReaperIndexEntryStaysMarkedAfterDrop(t *testing.T) {
	r := newReaper()
	ident := proto.Ident("index-1")
	idx := &proto.IndexDescriptor{Name: "idx"}
	r.trackDropPendingIndex(ident, idx)

	require.Same(t, idx, r.lookupDropPendingIndex(ident))
	r.notifyIdentDropped(ident)
	require.Nil(t, r.lookupDropPendingIndex(ident))
}

func TestReaperSweepCollectsExpiredReferences(t *testing.T) {
	r := newReaper()
	ident := proto.Ident("ident-1")

	func() {
		coll := NewCollection(proto.NewUUID(), proto.NewNamespace("db", "coll"), ident, 1, proto.CollectionOptions{}, nil, 0)
		r.trackDropPendingCollection(ident, coll)
	}()

	for i := 0; i < 5 && r.pendingCollectionCount() > 0; i++ {
		runtime.GC()
		r.sweep()
	}

	require.Equal(t, 0, r.pendingCollectionCount())
}

// TestReaperSweepReclaimsNotifiedDroppedIndex covers the index half of
// C5: an index entry is only reclaimed once it has both been notified
// dropped and its weak reference has expired, unlike a collection
// entry which only needs the latter.
func TestReaperSweepReclaimsNotifiedDroppedIndex(t *testing.T) {
	r := newReaper()
	ident := proto.Ident("index-1")

	func() {
		idx := &proto.IndexDescriptor{Name: "idx"}
		r.trackDropPendingIndex(ident, idx)
	}()

	r.notifyIdentDropped(ident)

	for i := 0; i < 5 && r.pendingIndexCount() > 0; i++ {
		runtime.GC()
		r.sweep()
	}

	require.Equal(t, 0, r.pendingIndexCount())
}

func TestReaperLookupAbsentIdentReturnsNil(t *testing.T) {
	r := newReaper()
	require.Nil(t, r.lookupDropPendingCollection(proto.Ident("missing")))
	require.Nil(t, r.lookupDropPendingIndex(proto.Ident("missing")))
}

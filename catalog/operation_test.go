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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/coldb/proto"
)

func TestEstablishConsistentCollectionServesFromMemory(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "coll")
	id := proto.NewUUID()
	commitTs := ts(5)
	coll := NewCollection(id, ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 5)
	require.NoError(t, c.RegisterCollection(context.Background(), coll, &commitTs))

	op := NewOperation(c, FixedSnapshot{Ts: 10})
	resolved, err := op.EstablishConsistentCollection(context.Background(), proto.ByNamespace(ns))
	require.NoError(t, err)
	require.Equal(t, id, resolved.UUID())

	again, err := op.EstablishConsistentCollection(context.Background(), proto.ByUUID(id))
	require.NoError(t, err)
	require.Same(t, resolved, again)
}

func TestEstablishConsistentCollectionFallsBackToDurable(t *testing.T) {
	c, durable := newTestCatalog(t)
	ns := proto.NewNamespace("db", "coll")
	id := proto.NewUUID()

	durable.Put(&DurableEntry{
		Ident:            "ident-1",
		CatalogId:        9,
		Namespace:        ns,
		UUID:             id,
		MinValidSnapshot: 3,
	})

	// History is only maintained from ts=10 on, as after a restart, so a
	// read at ts=5 is unknown to C2 and must be served by a durable scan.
	require.NoError(t, c.CleanupForCatalogReopen(context.Background(), ts(10)))

	op := NewOperation(c, FixedSnapshot{Ts: 5})
	resolved, err := op.EstablishConsistentCollection(context.Background(), proto.ByNamespace(ns))
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.Equal(t, proto.CatalogId(9), resolved.CatalogId())
}

func TestEstablishConsistentCollectionMissingReturnsNil(t *testing.T) {
	c, _ := newTestCatalog(t)
	op := NewOperation(c, FixedSnapshot{Ts: 5})
	resolved, err := op.EstablishConsistentCollection(context.Background(), proto.ByNamespace(proto.NewNamespace("db", "missing")))
	require.NoError(t, err)
	require.Nil(t, resolved)
}

// TestEstablishConsistentCollectionMaterializesPendingCommit covers the
// two-phase visibility path: a snapshot that has already observed the
// prepared commit timestamp sees the collection before CommitTwoPhase
// has run at all.
func TestEstablishConsistentCollectionMaterializesPendingCommit(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "staged")
	id := proto.NewUUID()
	coll := NewCollection(id, ns, proto.Ident("ident-1"), 7, proto.CollectionOptions{}, nil, 20)
	require.NoError(t, c.RegisterCollectionTwoPhase(context.Background(), coll, ts(20)))

	op := NewOperation(c, FixedSnapshot{Ts: 25})
	resolved, err := op.EstablishConsistentCollection(context.Background(), proto.ByNamespace(ns))
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.Equal(t, id, resolved.UUID())
}

// TestEstablishConsistentCollectionPendingNotObservedIsAbsent covers the
// other half: a snapshot taken before the prepared commit timestamp
// must not see the staged descriptor.
func TestEstablishConsistentCollectionPendingNotObservedIsAbsent(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "staged")
	id := proto.NewUUID()
	coll := NewCollection(id, ns, proto.Ident("ident-1"), 7, proto.CollectionOptions{}, nil, 20)
	require.NoError(t, c.RegisterCollectionTwoPhase(context.Background(), coll, ts(20)))

	op := NewOperation(c, FixedSnapshot{Ts: 10})
	resolved, err := op.EstablishConsistentCollection(context.Background(), proto.ByNamespace(ns))
	require.NoError(t, err)
	require.Nil(t, resolved)
}

// TestEstablishConsistentCollectionSkipsDurableScanOnKnownDrop covers
// the C2 short-circuit: a timestamp definitively within a dropped
// segment must not reach the durable catalog at all.
func TestEstablishConsistentCollectionSkipsDurableScanOnKnownDrop(t *testing.T) {
	c, durable := newTestCatalog(t)
	ns := proto.NewNamespace("db", "coll")
	id := proto.NewUUID()
	commitTs := ts(5)
	coll := NewCollection(id, ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 5)
	require.NoError(t, c.RegisterCollection(context.Background(), coll, &commitTs))
	dropTs := ts(10)
	_, err := c.DeregisterCollection(context.Background(), id, false, dropTs)
	require.NoError(t, err)

	durable.Put(&DurableEntry{
		Ident:            "ident-1",
		CatalogId:        1,
		Namespace:        ns,
		UUID:             id,
		MinValidSnapshot: 5,
	})

	op := NewOperation(c, FixedSnapshot{Ts: 15})
	resolved, err := op.EstablishConsistentCollection(context.Background(), proto.ByNamespace(ns))
	require.NoError(t, err)
	require.Nil(t, resolved)
}

func TestIteratorScopesToDatabase(t *testing.T) {
	c, _ := newTestCatalog(t)
	dbA := proto.DatabaseName{Name: "a"}
	dbB := proto.DatabaseName{Name: "b"}
	commitTs := ts(1)

	for _, name := range []string{"one", "two"} {
		ns := proto.Namespace{Db: dbA, Collection: name}
		coll := NewCollection(proto.NewUUID(), ns, proto.Ident(ns.String()), 1, proto.CollectionOptions{}, nil, 1)
		require.NoError(t, c.RegisterCollection(context.Background(), coll, &commitTs))
	}
	otherNS := proto.Namespace{Db: dbB, Collection: "three"}
	other := NewCollection(proto.NewUUID(), otherNS, proto.Ident(otherNS.String()), 1, proto.CollectionOptions{}, nil, 1)
	require.NoError(t, c.RegisterCollection(context.Background(), other, &commitTs))

	it := c.NewDatabaseIterator(dbA)
	count := 0
	for it.Next() {
		require.Equal(t, dbA, it.Collection().Namespace().Db)
		count++
	}
	require.Equal(t, 2, count)
}

func TestMetadataWriteHandleCommit(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "coll")
	id := proto.NewUUID()
	commitTs := ts(1)
	coll := NewCollection(id, ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 1)
	require.NoError(t, c.RegisterCollection(context.Background(), coll, &commitTs))

	handle, err := c.LookupCollectionForMetadataWrite(id)
	require.NoError(t, err)
	handle.AddIndex(proto.IndexDescriptor{Name: "idx_a"})
	require.NoError(t, handle.Commit(context.Background()))

	updated := c.LookupCollectionByUUID(id)
	require.Len(t, updated.Indexes(), 1)
	require.Equal(t, "idx_a", updated.Indexes()[0].Name)
}

func TestMetadataWriteHandleConflict(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "coll")
	id := proto.NewUUID()
	commitTs := ts(1)
	coll := NewCollection(id, ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 1)
	require.NoError(t, c.RegisterCollection(context.Background(), coll, &commitTs))

	handle, err := c.LookupCollectionForMetadataWrite(id)
	require.NoError(t, err)

	other, err := c.LookupCollectionForMetadataWrite(id)
	require.NoError(t, err)
	other.AddIndex(proto.IndexDescriptor{Name: "idx_b"})
	require.NoError(t, other.Commit(context.Background()))

	handle.AddIndex(proto.IndexDescriptor{Name: "idx_a"})
	require.Error(t, handle.Commit(context.Background()))
}

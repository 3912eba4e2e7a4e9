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

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/proto"
)

func TestRegisterUncommittedViewBlocksCollisions(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "view1")

	require.NoError(t, c.RegisterUncommittedView(context.Background(), ns))

	commitTs := ts(1)
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 1)
	err := c.RegisterCollection(context.Background(), coll, &commitTs)
	require.ErrorIs(t, err, apierrors.ErrNamespaceExists)
}

func TestClearUncommittedViewReleasesReservation(t *testing.T) {
	c, _ := newTestCatalog(t)
	ns := proto.NewNamespace("db", "view1")

	require.NoError(t, c.RegisterUncommittedView(context.Background(), ns))
	require.NoError(t, c.ClearUncommittedView(context.Background(), ns))

	commitTs := ts(1)
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 1)
	require.NoError(t, c.RegisterCollection(context.Background(), coll, &commitTs))
}

func TestReloadViewsSwapsInWholesaleAndClearsReservation(t *testing.T) {
	c, durable := newTestCatalog(t)
	db := proto.DatabaseName{Name: "db"}
	ns := proto.Namespace{Db: db, Collection: "view1"}

	require.NoError(t, c.RegisterUncommittedView(context.Background(), ns))

	durable.SetViews(db, []proto.ViewDefinition{{Namespace: ns, ViewOn: "coll"}})
	require.NoError(t, c.ReloadViews(context.Background(), db))

	def, ok := c.LookupView(ns)
	require.True(t, ok)
	require.Equal(t, "coll", def.ViewOn)

	// The reservation is gone; a collection create at the view's
	// namespace is now blocked by the committed view itself, since
	// namespaceTaken consults viewsPerDb. Clearing the already-cleared
	// reservation again is a harmless no-op.
	require.False(t, c.Latest().uncommittedViews.Has(ns))
	require.NoError(t, c.ClearUncommittedView(context.Background(), ns))
}

// TestCreateViewComposesReservationWriteAndReload covers the full
// create-view path: a collision on the namespace is rejected, and a
// successful create is both durably written and visible in memory.
func TestCreateViewComposesReservationWriteAndReload(t *testing.T) {
	c, durable := newTestCatalog(t)
	db := proto.DatabaseName{Name: "db"}
	ns := proto.Namespace{Db: db, Collection: "view1"}

	require.NoError(t, c.CreateView(context.Background(), proto.ViewDefinition{Namespace: ns, ViewOn: "coll"}))

	def, ok := c.LookupView(ns)
	require.True(t, ok)
	require.Equal(t, "coll", def.ViewOn)

	loaded, err := durable.LoadViews(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	commitTs := ts(1)
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 1)
	err = c.RegisterCollection(context.Background(), coll, &commitTs)
	require.ErrorIs(t, err, apierrors.ErrNamespaceExists)
}

func TestDropViewRemovesDurableAndInMemoryDefinition(t *testing.T) {
	c, _ := newTestCatalog(t)
	db := proto.DatabaseName{Name: "db"}
	ns := proto.Namespace{Db: db, Collection: "view1"}
	require.NoError(t, c.CreateView(context.Background(), proto.ViewDefinition{Namespace: ns, ViewOn: "coll"}))

	require.NoError(t, c.DropView(context.Background(), ns))
	_, ok := c.LookupView(ns)
	require.False(t, ok)

	err := c.DropView(context.Background(), ns)
	require.ErrorIs(t, err, apierrors.ErrViewNotFound)
}

func TestModifyViewReplacesDefinitionInPlace(t *testing.T) {
	c, _ := newTestCatalog(t)
	db := proto.DatabaseName{Name: "db"}
	ns := proto.Namespace{Db: db, Collection: "view1"}
	require.NoError(t, c.CreateView(context.Background(), proto.ViewDefinition{Namespace: ns, ViewOn: "coll"}))

	require.NoError(t, c.ModifyView(context.Background(), proto.ViewDefinition{Namespace: ns, ViewOn: "other"}))
	def, ok := c.LookupView(ns)
	require.True(t, ok)
	require.Equal(t, "other", def.ViewOn)

	missing := proto.Namespace{Db: db, Collection: "missing"}
	err := c.ModifyView(context.Background(), proto.ViewDefinition{Namespace: missing})
	require.ErrorIs(t, err, apierrors.ErrViewNotFound)
}

func TestGetViewNotFound(t *testing.T) {
	c, _ := newTestCatalog(t)
	_, err := c.GetView(proto.NewNamespace("db", "missing"))
	require.ErrorIs(t, err, apierrors.ErrViewNotFound)
}

func TestIterateViewsAndClear(t *testing.T) {
	c, durable := newTestCatalog(t)
	db := proto.DatabaseName{Name: "db"}
	v1 := proto.Namespace{Db: db, Collection: "v1"}
	v2 := proto.Namespace{Db: db, Collection: "v2"}

	durable.SetViews(db, []proto.ViewDefinition{{Namespace: v1}, {Namespace: v2}})
	require.NoError(t, c.ReloadViews(context.Background(), db))

	require.Len(t, c.IterateViews(db), 2)

	require.NoError(t, c.ClearViewsForDatabase(context.Background(), db))
	require.Empty(t, c.IterateViews(db))
}

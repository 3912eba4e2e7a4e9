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

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/proto"
)

// RegisterUncommittedView reserves ns so a concurrent collection or
// view create cannot claim it while a view document is being written
// to db's system.views collection. The reservation is cleared either
// by ReloadViews observing the new document, or by
// ClearUncommittedView on abort.
func (c *Catalog) RegisterUncommittedView(ctx context.Context, ns proto.Namespace) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		if namespaceTaken(v, ns) {
			return nil, apierrors.ErrNamespaceExists
		}
		return v.withUncommittedView(ns), nil
	})
}

// ClearUncommittedView releases ns's reservation without installing a
// view, used on abort of a view-create that never reached ReloadViews.
func (c *Catalog) ClearUncommittedView(ctx context.Context, ns proto.Namespace) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		return v.withoutUncommittedView(ns), nil
	})
}

// ReloadViews re-fetches every view definition for db from the durable
// catalog's system.views collection and swaps them in as a single
// unit, matching the real system's "views are reloaded wholesale, not
// patched piecemeal" behavior. Any uncommitted-view reservations that
// now have a matching definition are cleared.
func (c *Catalog) ReloadViews(ctx context.Context, db proto.DatabaseName) error {
	defs, err := c.durable.LoadViews(ctx, db)
	if err != nil {
		return err
	}
	views := newViewsForDatabase()
	for _, def := range defs {
		views = views.put(def)
	}
	return c.Write(ctx, func(v *Version) (*Version, error) {
		nv := v.withViewsForDatabase(db, views)
		for _, def := range defs {
			nv = nv.withoutUncommittedView(def.Namespace)
		}
		return nv, nil
	})
}

// LookupView returns db's view definition for ns, if any.
func (c *Catalog) LookupView(ns proto.Namespace) (proto.ViewDefinition, bool) {
	v := c.Latest()
	views, ok := v.viewsPerDb.Get(ns.Db)
	if !ok {
		return proto.ViewDefinition{}, false
	}
	return views.lookup(ns)
}

// GetView is LookupView with the catalog's usual sentinel-error
// convention instead of a boolean, for callers that want to propagate
// the error directly.
func (c *Catalog) GetView(ns proto.Namespace) (proto.ViewDefinition, error) {
	def, ok := c.LookupView(ns)
	if !ok {
		return proto.ViewDefinition{}, apierrors.ErrViewNotFound
	}
	return def, nil
}

// IterateViews returns every view definition registered for db, in
// namespace order.
func (c *Catalog) IterateViews(db proto.DatabaseName) []proto.ViewDefinition {
	v := c.Latest()
	views, ok := v.viewsPerDb.Get(db)
	if !ok || views.views == nil {
		return nil
	}
	var out []proto.ViewDefinition
	views.views.Ascend(func(_ proto.Namespace, def proto.ViewDefinition) bool {
		out = append(out, def)
		return true
	})
	return out
}

// CreateView is the external create-view entry point: it reserves the
// view's namespace, durably writes its definition, and reloads db's
// view set wholesale so the reservation clears against the new
// document, composing RegisterUncommittedView -> durable write ->
// ReloadViews.
func (c *Catalog) CreateView(ctx context.Context, def proto.ViewDefinition) error {
	if err := c.RegisterUncommittedView(ctx, def.Namespace); err != nil {
		return err
	}
	if err := c.durable.WriteView(ctx, def); err != nil {
		if clearErr := c.ClearUncommittedView(ctx, def.Namespace); clearErr != nil {
			trace.SpanFromContextSafe(ctx).Warnf("failed to release view reservation for %s after write error: %v", def.Namespace, clearErr)
		}
		return err
	}
	return c.ReloadViews(ctx, def.Namespace.Db)
}

// DropView durably removes ns's view definition and reloads db's view
// set to reflect the drop.
func (c *Catalog) DropView(ctx context.Context, ns proto.Namespace) error {
	if _, ok := c.LookupView(ns); !ok {
		return apierrors.ErrViewNotFound
	}
	if err := c.durable.DeleteView(ctx, ns); err != nil {
		return err
	}
	return c.ReloadViews(ctx, ns.Db)
}

// ModifyView replaces an existing view's definition in place: same
// namespace, new viewOn/pipeline/collation. Unlike CreateView it does
// not reserve the namespace first, since ns is already claimed by the
// view being replaced.
func (c *Catalog) ModifyView(ctx context.Context, def proto.ViewDefinition) error {
	if _, ok := c.LookupView(def.Namespace); !ok {
		return apierrors.ErrViewNotFound
	}
	if err := c.durable.WriteView(ctx, def); err != nil {
		return err
	}
	return c.ReloadViews(ctx, def.Namespace.Db)
}

// ClearViewsForDatabase drops every view definition known for db,
// without touching its collections. Used when a database is dropped
// entirely.
func (c *Catalog) ClearViewsForDatabase(ctx context.Context, db proto.DatabaseName) error {
	return c.Write(ctx, func(v *Version) (*Version, error) {
		return v.withViewsForDatabase(db, newViewsForDatabase()), nil
	})
}

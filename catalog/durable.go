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
	"sync"

	"github.com/cubefs/coldb/proto"
)

// DurableEntry is what the storage engine's durable catalog hands back
// for a single collection record. The in-memory catalog never mutates
// this; it only reads it to reconstruct a point-in-time descriptor or
// to detect that an in-memory descriptor is still signature-compatible.
type DurableEntry struct {
	Ident            proto.Ident
	CatalogId        proto.CatalogId
	Namespace        proto.Namespace
	UUID             proto.UUID
	Options          proto.CollectionOptions
	Indexes          []proto.IndexDescriptor
	MinValidSnapshot proto.Timestamp
}

// DurableCatalog is the narrow interface the in-memory catalog consults
// when a lookup cannot be served from memory alone (a historical read
// the catalog's own history cannot answer), plus the view-document
// writes that CreateView, DropView and ModifyView make.
// The storage engine's actual durable catalog and its persistence are
// entirely out of scope for this package; production code plugs in
// its own implementation.
type DurableCatalog interface {
	// FetchEntry resolves key as of ts (nil means "latest"). It returns
	// (nil, nil) if no entry exists, mirroring the catalog's own
	// "absence is not an error" convention for lookups.
	FetchEntry(ctx context.Context, key proto.NamespaceOrUUID, ts *proto.Timestamp) (*DurableEntry, error)

	// LoadViews reloads every view definition for db from the
	// well-known system.views collection.
	LoadViews(ctx context.Context, db proto.DatabaseName) ([]proto.ViewDefinition, error)

	// WriteView durably inserts or replaces def in its database's
	// system.views collection.
	WriteView(ctx context.Context, def proto.ViewDefinition) error

	// DeleteView durably removes ns's view document, if any.
	DeleteView(ctx context.Context, ns proto.Namespace) error
}

// StorageSnapshot is the narrow interface the catalog needs from an
// open storage engine snapshot: its timestamp, and whether it has
// observed a given commit (used to decide whether a pending-overlay
// descriptor is visible to this particular reader).
type StorageSnapshot interface {
	Timestamp() proto.Timestamp
	HasObservedCommit(commitTs proto.Timestamp) bool
}

// MemDurableCatalog is a small, concurrency-safe in-memory
// implementation of DurableCatalog used by tests and by callers that
// have no separate storage engine (e.g. embedding scenarios). It keeps
// every version of every entry ever Put, so historical FetchEntry
// calls behave like a real durable catalog scan would.
type MemDurableCatalog struct {
	mu      sync.RWMutex
	byUUID  map[proto.UUID][]*DurableEntry // ascending by MinValidSnapshot
	byNSS   map[proto.Namespace][]*DurableEntry
	views   map[proto.DatabaseName][]proto.ViewDefinition
}

func NewMemDurableCatalog() *MemDurableCatalog {
	return &MemDurableCatalog{
		byUUID: make(map[proto.UUID][]*DurableEntry),
		byNSS:  make(map[proto.Namespace][]*DurableEntry),
		views:  make(map[proto.DatabaseName][]proto.ViewDefinition),
	}
}

// Put records a durable entry, e.g. from a test's storage-commit hook.
func (m *MemDurableCatalog) Put(e *DurableEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUUID[e.UUID] = append(m.byUUID[e.UUID], e)
	m.byNSS[e.Namespace] = append(m.byNSS[e.Namespace], e)
}

func (m *MemDurableCatalog) SetViews(db proto.DatabaseName, views []proto.ViewDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[db] = append([]proto.ViewDefinition(nil), views...)
}

func (m *MemDurableCatalog) FetchEntry(_ context.Context, key proto.NamespaceOrUUID, ts *proto.Timestamp) (*DurableEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*DurableEntry
	if key.IsUUID {
		candidates = m.byUUID[key.ID]
	} else {
		candidates = m.byNSS[key.NSS]
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if ts == nil {
		return candidates[len(candidates)-1], nil
	}
	var best *DurableEntry
	for _, c := range candidates {
		if c.MinValidSnapshot <= *ts {
			best = c
		}
	}
	return best, nil
}

func (m *MemDurableCatalog) LoadViews(_ context.Context, db proto.DatabaseName) ([]proto.ViewDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]proto.ViewDefinition(nil), m.views[db]...), nil
}

func (m *MemDurableCatalog) WriteView(_ context.Context, def proto.ViewDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	db := def.Namespace.Db
	for i, existing := range m.views[db] {
		if existing.Namespace == def.Namespace {
			m.views[db][i] = def
			return nil
		}
	}
	m.views[db] = append(m.views[db], def)
	return nil
}

func (m *MemDurableCatalog) DeleteView(_ context.Context, ns proto.Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.views[ns.Db][:0]
	for _, existing := range m.views[ns.Db] {
		if existing.Namespace != ns {
			kept = append(kept, existing)
		}
	}
	m.views[ns.Db] = kept
	return nil
}

// FixedSnapshot is a trivial StorageSnapshot for tests: it reports a
// fixed timestamp and considers every commit at or before it observed.
type FixedSnapshot struct {
	Ts proto.Timestamp
}

func (f FixedSnapshot) Timestamp() proto.Timestamp { return f.Ts }
func (f FixedSnapshot) HasObservedCommit(commitTs proto.Timestamp) bool {
	return commitTs <= f.Ts
}

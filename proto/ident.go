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

// Package proto holds the wire-ish identifiers and value types shared
// across the catalog: namespaces, UUIDs, catalog ids, timestamps and
// the existence tri-state used by historical lookups.
package proto

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// UUID is the stable 128-bit identity of a collection. It survives
// rename and is never reused for the lifetime of the process (and
// beyond, since it is generated with google/uuid's random source).
type UUID = uuid.UUID

// NewUUID generates a fresh collection identity.
func NewUUID() UUID {
	return uuid.New()
}

// Timestamp is the storage engine's monotonically increasing logical
// clock. The catalog never advances it on its own; it is always
// supplied by a caller.
type Timestamp uint64

// CatalogId is the opaque record identifier of a collection inside the
// durable catalog. It is not stable across drop/recreate.
type CatalogId uint64

// TenantId optionally scopes a database name to a tenant in a
// multi-tenant deployment. The empty TenantId means "no tenant tag".
type TenantId string

// DatabaseName is a database identifier, optionally tagged with a
// tenant.
type DatabaseName struct {
	Tenant TenantId
	Name   string
}

func (d DatabaseName) String() string {
	if d.Tenant == "" {
		return d.Name
	}
	return string(d.Tenant) + "_" + d.Name
}

// Less orders database names first by tenant, then by name, giving
// deterministic iteration for tenant-scoped enumeration.
func (d DatabaseName) Less(o DatabaseName) bool {
	if d.Tenant != o.Tenant {
		return d.Tenant < o.Tenant
	}
	return d.Name < o.Name
}

// Namespace is the human readable identity of a collection: a
// (database, collection) pair.
type Namespace struct {
	Db         DatabaseName
	Collection string
}

func NewNamespace(db, coll string) Namespace {
	return Namespace{Db: DatabaseName{Name: db}, Collection: coll}
}

func (n Namespace) String() string {
	return fmt.Sprintf("%s.%s", n.Db.String(), n.Collection)
}

// Less gives namespaces a total order: by database first, then by
// collection name. Used to key the ordered (database, UUID) map's
// database-scoped range scans indirectly, and directly for any
// namespace-ordered structure.
func (n Namespace) Less(o Namespace) bool {
	if n.Db != o.Db {
		return n.Db.Less(o.Db)
	}
	return n.Collection < o.Collection
}

// IsZero reports whether n is the zero-value namespace, used as a
// sentinel for "no namespace" in NamespaceOrUUID.
func (n Namespace) IsZero() bool {
	return n == Namespace{}
}

// lessUUID orders two UUIDs by their raw bytes. Iteration order over
// byUuid is irrelevant per the spec, but a total order is required by
// the persistent map's underlying B-tree.
func lessUUID(a, b UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// LessUUID exports lessUUID for packages composing UUID-keyed
// persistent maps outside of this package.
func LessUUID(a, b UUID) bool { return lessUUID(a, b) }

// DbUUID is the composite key of the orderedByDbUuid map: it supports
// per-database range scans in UUID order.
type DbUUID struct {
	Db DatabaseName
	Id UUID
}

func (k DbUUID) Less(o DbUUID) bool {
	if k.Db != o.Db {
		return k.Db.Less(o.Db)
	}
	return lessUUID(k.Id, o.Id)
}

// Existence is the tri-state result of a historical catalog-id lookup.
type Existence uint8

const (
	// Unknown means the requested timestamp predates the earliest
	// retained history entry; the caller must scan the durable catalog.
	Unknown Existence = iota
	// Exists means the namespace or UUID resolved to a live CatalogId
	// at the requested timestamp.
	Exists
	// NotExists means the requested timestamp falls in a dropped
	// segment, or between a drop and a later create for the same key.
	NotExists
)

func (e Existence) String() string {
	switch e {
	case Exists:
		return "kExists"
	case NotExists:
		return "kNotExists"
	default:
		return "kUnknown"
	}
}

// NamespaceOrUUID is a disjunctive key accepted by lookup operations
// that can address a collection either way. Exactly one of the two
// fields is meaningful, indicated by IsUUID.
type NamespaceOrUUID struct {
	NSS    Namespace
	ID     UUID
	IsUUID bool
}

func ByNamespace(ns Namespace) NamespaceOrUUID {
	return NamespaceOrUUID{NSS: ns}
}

func ByUUID(id UUID) NamespaceOrUUID {
	return NamespaceOrUUID{ID: id, IsUUID: true}
}

func (k NamespaceOrUUID) String() string {
	if k.IsUUID {
		return k.ID.String()
	}
	return k.NSS.String()
}

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

// Package errors defines the sentinel error values returned by the
// catalog, independent of any RPC or HTTP presentation layer.
package errors

import "errors"

var (
	// ErrNamespaceNotFound is returned when a lookup by UUID or namespace
	// finds no mapping, or the mapping was renamed into a different
	// database than the caller expected.
	ErrNamespaceNotFound = errors.New("coldb: namespace not found")

	// ErrNamespaceExists is returned when a create or rename would
	// collide with a committed or pending collection or view. Callers
	// should retry after the catalog version they observe advances.
	ErrNamespaceExists = errors.New("coldb: namespace already exists")

	// ErrCatalogIdUnknownAtTimestamp names the condition of a historical
	// lookup whose requested timestamp falls before the maintained
	// history window; the caller must fall back to scanning the durable
	// catalog. The catalog's historical lookups report this condition as
	// proto.Unknown and do not return this error.
	ErrCatalogIdUnknownAtTimestamp = errors.New("coldb: catalog id unknown at timestamp")

	// ErrInvalidProfileLevel is returned at construction or configuration
	// time when a profiling level outside [0, 2] is supplied.
	ErrInvalidProfileLevel = errors.New("coldb: invalid profile level")

	// ErrWriteConflict is returned when a write's base state has been
	// superseded: a batched writer is requested while another writer
	// holds the publisher, a metadata-write handle's base descriptor was
	// replaced before Commit (the caller retries from a fresh lookup), or
	// a history entry's timestamp is not newer than the key's last one.
	ErrWriteConflict = errors.New("coldb: write conflict under batched writer")

	// ErrCatalogClosed names the state between onCloseCatalog and
	// onOpenCatalog. Catalog operations do not return it: lookups in
	// that state find empty maps and report absence.
	ErrCatalogClosed = errors.New("coldb: catalog is closed")

	// ErrUncommittedView names a namespace reserved by a pending view
	// creation. A collection or view create that collides with such a
	// reservation is rejected with ErrNamespaceExists, not this error.
	ErrUncommittedView = errors.New("coldb: namespace reserved by an uncommitted view")

	// ErrViewNotFound is returned by view lookups that find no
	// definition for the requested namespace.
	ErrViewNotFound = errors.New("coldb: view not found")
)

/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# coldb: the in-memory collection catalog

coldb is the process-wide metadata registry of a distributed document
store. It maps namespaces and UUIDs to live collection descriptors and
hands out consistent, versioned snapshots of that mapping to every
reader and writer in the process.

## Why a versioned catalog?

A query has to see a consistent view of "what collections exist and
what do they look like" for its entire lifetime, even while DDL runs
concurrently on other threads. Locking the whole catalog on every read
does not scale. Instead the catalog is copy-on-write: every write
publishes a brand new immutable version, and every reader just holds
on to whichever version it grabbed.

## Components

* Persistent index maps (package catalog) - UUID/namespace/ordered
  maps built on a copy-on-write B-tree, so publishing a new version is
  O(1) plus the size of the mutation.

* Catalog-id history - per-namespace and per-UUID timelines answering
  "did this exist at time T, and under what physical id".

* Snapshot publisher - the single place writes are serialized and
  batched before a new version is swapped in.

* Operation-scoped view - stashing, two-phase DDL visibility, and
  point-in-time collection reconstruction against a storage snapshot.

* Drop-pending reaper - tracks dropped descriptors through weak
  references, so stragglers that still hold one can look it up, until
  the storage engine confirms the backing ident is gone or no strong
  reference survives. Sweeps run when the oldest retained timestamp
  advances; the drop timestamp itself is not consulted.

## Building Blocks

* google/btree, for copy-on-write persistent maps
* google/uuid, for collection identity
* golang.org/x/sync/singleflight, to coalesce durable-catalog scans
* golang.org/x/time/rate, to throttle the reaper sweep
* Prometheus, for catalog gauges and counters

*/

package coldb

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

// Package pmap implements the persistent, structural-sharing maps the
// catalog is built on. A write returns a new Map; the receiver is left
// untouched and remains valid for whatever reader still holds it. This
// is exactly the "clone is O(1)" property the catalog's copy-on-write
// versioning depends on: google/btree's Clone() shares every node
// between the parent and the child until one of them mutates a path,
// at which point only that path is copied.
package pmap

import "github.com/google/btree"

const degree = 32

type entry[K any, V any] struct {
	key K
	val V
}

// Map is an ordered, persistent key/value map keyed by K and ordered
// by the Less function supplied to New.
type Map[K any, V any] struct {
	tree *btree.BTreeG[entry[K, V]]
	less func(a, b K) bool
}

// New returns an empty persistent map ordered by less.
func New[K any, V any](less func(a, b K) bool) *Map[K, V] {
	entryLess := func(a, b entry[K, V]) bool { return less(a.key, b.key) }
	return &Map[K, V]{tree: btree.NewG[entry[K, V]](degree, entryLess), less: less}
}

// Get returns the value stored for key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	item, ok := m.tree.Get(entry[K, V]{key: key})
	if !ok {
		var zero V
		return zero, false
	}
	return item.val, true
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.tree.Get(entry[K, V]{key: key})
	return ok
}

// Put returns a new map with key bound to val, leaving m unmodified.
func (m *Map[K, V]) Put(key K, val V) *Map[K, V] {
	clone := m.tree.Clone()
	clone.ReplaceOrInsert(entry[K, V]{key: key, val: val})
	return &Map[K, V]{tree: clone, less: m.less}
}

// Delete returns a new map without key, leaving m unmodified. Deleting
// an absent key is a no-op that still returns a cloned map, matching
// the copy-on-write contract callers rely on.
func (m *Map[K, V]) Delete(key K) *Map[K, V] {
	clone := m.tree.Clone()
	clone.Delete(entry[K, V]{key: key})
	return &Map[K, V]{tree: clone, less: m.less}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	if m == nil || m.tree == nil {
		return 0
	}
	return m.tree.Len()
}

// Ascend calls f for every entry in ascending key order until f
// returns false or the map is exhausted. The traversal is over a
// frozen snapshot: concurrent writers produce new maps, they never
// mutate this one.
func (m *Map[K, V]) Ascend(f func(key K, val V) bool) {
	m.tree.Ascend(func(e entry[K, V]) bool { return f(e.key, e.val) })
}

// AscendRange calls f for every entry with key in [from, to) in
// ascending order.
func (m *Map[K, V]) AscendRange(from, to K, f func(key K, val V) bool) {
	m.tree.AscendRange(entry[K, V]{key: from}, entry[K, V]{key: to}, func(e entry[K, V]) bool { return f(e.key, e.val) })
}

// AscendGreaterOrEqual calls f for every entry with key >= pivot in
// ascending order.
func (m *Map[K, V]) AscendGreaterOrEqual(pivot K, f func(key K, val V) bool) {
	m.tree.AscendGreaterOrEqual(entry[K, V]{key: pivot}, func(e entry[K, V]) bool { return f(e.key, e.val) })
}

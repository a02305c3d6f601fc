// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmap implements a small sorted-slice "compare map", the Go
// counterpart of picotm's cmap/cmapss helpers (see original_source
// lib/modules/libc/src/fd/cmap.c). The transaction root uses SortedKeys
// to build its per-transaction touched-fildes / touched-ofd sets during
// commit (spec.md §4.6 step 1); the file-interning tables keep their own
// slice and do not use this package.
package cmap

import "sort"

// Map is a sorted association from K to V, kept as a flat slice. It is
// not safe for concurrent use; callers serialize access the same way
// picotm's cmap did (external latch).
type Map[K any, V any] struct {
	less    func(a, b K) bool
	keys    []K
	values  []V
}

// New creates an empty Map ordered by less.
func New[K any, V any](less func(a, b K) bool) *Map[K, V] {
	return &Map[K, V]{less: less}
}

func (m *Map[K, V]) search(key K) (idx int, found bool) {
	idx = sort.Search(len(m.keys), func(i int) bool {
		return !m.less(m.keys[i], key)
	})
	if idx < len(m.keys) && !m.less(key, m.keys[idx]) && !m.less(m.keys[idx], key) {
		found = true
	}
	return
}

// Get returns the value stored for key, if any.
func (m *Map[K, V]) Get(key K) (V, bool) {
	idx, found := m.search(key)
	if !found {
		var zero V
		return zero, false
	}
	return m.values[idx], true
}

// Set inserts or overwrites the value for key, keeping the backing slice
// sorted.
func (m *Map[K, V]) Set(key K, value V) {
	idx, found := m.search(key)
	if found {
		m.values[idx] = value
		return
	}
	m.keys = append(m.keys, key)
	copy(m.keys[idx+1:], m.keys[idx:len(m.keys)-1])
	m.keys[idx] = key

	var zero V
	m.values = append(m.values, zero)
	copy(m.values[idx+1:], m.values[idx:len(m.values)-1])
	m.values[idx] = value
}

// Delete removes key, if present.
func (m *Map[K, V]) Delete(key K) {
	idx, found := m.search(key)
	if !found {
		return
	}
	m.keys = append(m.keys[:idx], m.keys[idx+1:]...)
	m.values = append(m.values[:idx], m.values[idx+1:]...)
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return len(m.keys) }

// Keys returns the keys in sorted order. The slice is owned by the
// caller; it is a copy and safe to retain.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Each calls fn for every entry in sorted key order.
func (m *Map[K, V]) Each(fn func(key K, value V)) {
	for i, k := range m.keys {
		fn(k, m.values[i])
	}
}

// SortedKeys sorts an arbitrary key slice in place using less and
// removes adjacent duplicates. The commit protocol uses it for its
// sorted touched-fildes and touched-ofd sets (spec.md §4.6 step 1).
func SortedKeys[K comparable](keys []K, less func(a, b K) bool) []K {
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	out := keys[:0]
	var last K
	haveLast := false
	for _, k := range keys {
		if haveLast && !less(last, k) && !less(k, last) {
			continue
		}
		out = append(out, k)
		last = k
		haveLast = true
	}
	return out
}

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

// Package rangelock implements the byte-range locking primitives for
// regular files (spec.md §4.2): a global, process-wide rwlockmap of
// atomic lock words keyed by file record number, and a per-transaction
// rwstatemap shadowing which of those words the transaction currently
// holds.
//
// The original (original_source lib/modules/libc/src/fd/pgtree.c) is an
// 8-level radix tree with 9-bit branching (PGTREE_NENTRIES = 512) over a
// 64-bit record number, each directory entry guarded by a spinlock. Here
// the sparse upper levels collapse into a single directory map guarded
// by a mutex, with each leaf still holding exactly 512 atomic lock
// words, preserving the "sparse, lazily-allocated, fixed-size leaf"
// shape without hand-rolled 8-level pointer chasing.
package rangelock

import "sync"

const (
	// leafBits is the branching factor of pgtree.c's PGTREE_ENTRY_NBITS.
	leafBits    = 9
	leafEntries = 1 << leafBits
	leafMask    = leafEntries - 1
)

// recordKey splits a record number into the directory key (the high
// bits, identifying a leaf) and the index within that leaf's word array.
func recordKey(record uint64) (dirKey uint64, idx int) {
	return record >> leafBits, int(record & leafMask)
}

// pageTree is the global sparse array of lock words, lazily allocated a
// leaf (512 words) at a time.
type pageTree struct {
	mu    sync.Mutex
	pages map[uint64]*leaf
}

type leaf struct {
	words [leafEntries]Word
}

func newPageTree() *pageTree {
	return &pageTree{pages: make(map[uint64]*leaf)}
}

// wordFor returns the lock word for the given record number, allocating
// its leaf page on first touch.
func (t *pageTree) wordFor(record uint64) *Word {
	dirKey, idx := recordKey(record)

	t.mu.Lock()
	pg, ok := t.pages[dirKey]
	if !ok {
		pg = &leaf{}
		t.pages[dirKey] = pg
	}
	t.mu.Unlock()

	return &pg.words[idx]
}

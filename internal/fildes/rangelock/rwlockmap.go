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

package rangelock

import (
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// DefaultRecordSize is the design constant from spec.md §4.2 ("a design
// constant, chosen 512B-4K"); 4096 matches the common page size.
const DefaultRecordSize int64 = 4096

// RWLockMap is the global, per-file byte-range lock table. One instance
// lives on each regular-file record (spec.md §3.2) and is shared by
// every transaction that references that file.
type RWLockMap struct {
	recordSize int64
	tree       *pageTree
}

// NewRWLockMap creates an empty lock map using recordSize-byte records.
// recordSize <= 0 selects DefaultRecordSize.
func NewRWLockMap(recordSize int64) *RWLockMap {
	if recordSize <= 0 {
		recordSize = DefaultRecordSize
	}
	return &RWLockMap{recordSize: recordSize, tree: newPageTree()}
}

// RecordSize returns the configured record size in bytes.
func (m *RWLockMap) RecordSize() int64 { return m.recordSize }

func (m *RWLockMap) records(off, nbyte int64) (first, last uint64) {
	if nbyte <= 0 {
		nbyte = 1
	}
	first = uint64(off / m.recordSize)
	last = uint64((off + nbyte - 1) / m.recordSize)
	return
}

// LockRange acquires, on behalf of the transaction-local shadow sm, the
// lock kind implied by write over the byte range [off, off+nbyte). It
// upgrades records sm already holds for reading when write is true and
// sm is the sole reader, and otherwise takes a fresh lock per spec.md
// §4.2. On Conflict, every record this call locked or upgraded is
// released and cleared from sm before returning; records sm held from
// an earlier call and this call did not touch stay held. A record this
// call upgraded from read to write loses its earlier read lock too.
func (m *RWLockMap) LockRange(sm *StateMap, off, nbyte int64, write bool) error {
	first, last := m.records(off, nbyte)

	acquired := make([]uint64, 0, last-first+1)
	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			rec := acquired[i]
			st, _ := sm.get(rec)
			w := m.tree.wordFor(rec)
			switch st {
			case StateWrite:
				w.UnlockWrite()
			case StateRead:
				w.UnlockRead()
			}
			sm.clear(rec)
		}
	}

	for rec := first; rec <= last; rec++ {
		cur, _ := sm.get(rec)
		w := m.tree.wordFor(rec)

		switch {
		case cur == StateWrite:
			// Already hold what we need.
		case cur == StateRead && write:
			if !w.TryUpgrade() {
				rollback()
				return fildeserr.Conflict("rangelock: upgrade conflict")
			}
			sm.set(rec, StateWrite)
			acquired = append(acquired, rec)
		case cur == StateUnlocked && write:
			if !w.TryWLock() {
				rollback()
				return fildeserr.Conflict("rangelock: write conflict")
			}
			sm.set(rec, StateWrite)
			acquired = append(acquired, rec)
		case cur == StateUnlocked && !write:
			if !w.TryRLock() {
				rollback()
				return fildeserr.Conflict("rangelock: read conflict")
			}
			sm.set(rec, StateRead)
			acquired = append(acquired, rec)
		default:
			// cur == StateRead && !write: nothing to do.
		}
	}

	return nil
}

// Unlock releases every record sm currently holds on this map, in
// descending record order (the reverse of acquisition order within a
// commit, per spec.md §4.6 step 5 / §4.7 step 2), and clears sm.
func (m *RWLockMap) Unlock(sm *StateMap) {
	recs := sm.sortedRecords()
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		st, _ := sm.get(rec)
		w := m.tree.wordFor(rec)
		switch st {
		case StateWrite:
			w.UnlockWrite()
		case StateRead:
			w.UnlockRead()
		}
	}
	sm.reset()
}

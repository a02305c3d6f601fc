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

package file

import (
	"sync"

	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// Table interns File records for one variant, enforcing invariant I4: no
// two transactions can ever create two live records for the same
// file-id (spec.md §4.3).
type Table struct {
	mu sync.RWMutex

	variant    fileid.Variant
	defaultCC  CCMode
	recordSize int64
	capacity   int

	slots []*File
}

// NewTable creates a table for variant with the given fixed capacity
// (spec.md §3.3: "Capacity equals MAXNUMFD").
func NewTable(variant fileid.Variant, capacity int, defaultCC CCMode, recordSize int64) *Table {
	return &Table{
		variant:    variant,
		defaultCC:  defaultCC,
		recordSize: recordSize,
		capacity:   capacity,
	}
}

// RefFildes resolves the kernel file behind fildes to its interned File
// record, taking a reference, per spec.md §4.3's four-step algorithm.
func (t *Table) RefFildes(fildes int) (*File, error) {
	id, err := fileid.Of(fildes)
	if err != nil {
		return nil, fildeserr.Errno(err)
	}
	return t.RefID(id)
}

// RefID is RefFildes with an already-computed identity, split out so
// tests can intern synthetic ids without a real kernel descriptor.
func (t *Table) RefID(id fileid.ID) (*File, error) {
	// Step 1/2: scan live slots under the reader latch.
	if rec := t.scanLive(id); rec != nil {
		return rec, nil
	}

	// No match found under the reader latch: upgrade to the writer latch
	// and repeat the whole algorithm, since another transaction may have
	// created the record concurrently (spec.md §4.3's "repeat the scan").
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.slots {
		if rec.CmpAndRef(id) {
			return rec, nil
		}
	}

	// Still no match: reuse a dead slot...
	for _, rec := range t.slots {
		if rec.BindDeadSlot(id, t.defaultCC, t.recordSize) {
			return rec, nil
		}
	}

	// ...or append a fresh one if the table has room.
	if len(t.slots) >= t.capacity {
		return nil, fildeserr.Conflict("filetab: table full")
	}
	rec := NewFile(t.variant, t.recordSize)
	if !rec.BindDeadSlot(id, t.defaultCC, t.recordSize) {
		return nil, fildeserr.Fatalf("filetab: freshly allocated slot was not dead")
	}
	t.slots = append(t.slots, rec)
	return rec, nil
}

func (t *Table) scanLive(id fileid.ID) *File {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rec := range t.slots {
		if rec.CmpAndRef(id) {
			return rec
		}
	}
	return nil
}

// Len reports the table's logical length, for tests and metrics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

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
	"sync/atomic"

	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildes/rangelock"
)

// CCMode selects how a file's transactions buffer and commit their
// effects (spec.md glossary: "CC mode").
type CCMode int

const (
	// NoUndo (a.k.a. irrevocable) performs all effects at exec time and
	// holds no locks. It never fails with Conflict or Revocable, but it
	// also can never be undone.
	NoUndo CCMode = iota
	// TwoPL buffers effects and applies them at commit time under locks
	// held since acquisition, releasing them only after apply/undo.
	TwoPL
)

func (m CCMode) String() string {
	if m == NoUndo {
		return "NoUndo"
	}
	return "TwoPL"
}

// fieldsForVariant returns which fields are active for a variant
// (spec.md §3.2's per-variant field table). Fields outside this set are
// simply never touched for that variant's records.
func fieldsForVariant(v fileid.Variant) []Field {
	switch v {
	case fileid.VariantRegular:
		return []Field{FieldMode, FieldOffset, FieldSize, FieldState}
	case fileid.VariantDir:
		return []Field{FieldState}
	case fileid.VariantFIFO:
		return []Field{FieldMode, FieldReadEnd, FieldWriteEnd, FieldState}
	case fileid.VariantChrdev:
		return []Field{FieldMode, FieldOffset, FieldState}
	case fileid.VariantSocket:
		return []Field{FieldMode, FieldRecvEnd, FieldSendEnd, FieldState}
	default:
		return nil
	}
}

// File is one L2 record (spec.md §3.2): at most one lives per file-id at
// any moment (invariant I2), and it is live iff its ref count is
// positive and its id is non-empty (invariant I1).
//
// GUARDED_BY(mu): ref, id, ccMode. The per-field rangelock.Words and, for
// regular files, the byte-range map are independently synchronized and
// may be touched without mu, matching spec.md §4.1's "lock-free read of
// the cc mode" note.
type File struct {
	mu sync.RWMutex

	ref int
	id  fileid.ID

	variant fileid.Variant
	ccMode  CCMode

	fields [FieldCount]rangelock.Word

	// Range is non-nil only for regular files (spec.md §3.2's "for
	// regfile, a byte-range lock map over 4K or 512-byte records").
	Range *rangelock.RWLockMap

	recordSize int64

	// Offset and Size are the engine's logical view of the kernel file
	// position and length: the values every transaction's commit-time
	// apply reconciles the real descriptor against (spec.md §5: "lseek is
	// issued at apply time to reconcile kernel position with the
	// committed shadow offset"). They are updated by commit-time apply
	// and by NoUndo exec paths, not always with the owning field
	// (FieldOffset/FieldSize) write-locked, so they are plain atomics
	// that no racing reader ever sees torn.
	Offset atomic.Int64
	Size   atomic.Int64

	offsetInit atomic.Bool
}

// NewFile allocates an unreferenced (dead) slot for the given variant.
// recordSize is only meaningful for VariantRegular and may be zero to
// take rangelock.DefaultRecordSize.
func NewFile(variant fileid.Variant, recordSize int64) *File {
	return &File{variant: variant, recordSize: recordSize}
}

// Variant reports the file's kernel-object kind.
func (f *File) Variant() fileid.Variant { return f.variant }

// Live reports whether the record currently backs a kernel file
// (invariant I1).
func (f *File) Live() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ref > 0
}

// ID returns the file's current identity, or the empty id if dead.
func (f *File) ID() fileid.ID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}

// CCMode reads the file's concurrency-control mode without blocking on
// anything but the (brief, uncontended in the common case) reader latch,
// per spec.md §4.1's "Lock-free read of the CC mode".
func (f *File) CCMode() CCMode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ccMode
}

// CmpAndRef implements spec.md §4.1's cmp_and_ref_or_set_up restricted to
// its "compare against an already-live record" half: under the table's
// reader latch (spec.md §4.3 step 2), each live slot is asked whether it
// already backs id. A match bumps the reference count and reports true;
// a dead slot or a mismatch never takes a reference.
func (f *File) CmpAndRef(id fileid.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ref > 0 && f.id == id {
		f.ref++
		return true
	}
	return false
}

// BindDeadSlot implements the writer-latched half of spec.md §4.3 step
// 3: reinitialize a slot that is currently dead (ref == 0, empty id)
// from id, taking the first reference. It reports false if the slot was
// not actually dead (lost the race to another creator; the caller
// should retry cmp_and_ref on it instead).
func (f *File) BindDeadSlot(id fileid.ID, defaultCC CCMode, recordSize int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ref != 0 || !f.id.IsEmpty() {
		return false
	}

	f.id = id
	f.ccMode = defaultCC
	f.ref = 1
	if f.variant == fileid.VariantRegular {
		f.recordSize = recordSize
		f.Range = rangelock.NewRWLockMap(recordSize)
	}
	return true
}

// Ref unconditionally bumps the reference count of an already-live
// record (used when a caller already holds a pointer and merely needs a
// second reference, e.g. resolving the same ofd_tx twice within one
// transaction).
func (f *File) Ref() {
	f.mu.Lock()
	f.ref++
	f.mu.Unlock()
}

// Unref drops one reference, clearing the identity (returning the slot
// to the dead state, invariant I1) if this was the last one. It reports
// whether this call made the slot dead.
func (f *File) Unref() (wentDead bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ref--
	if f.ref < 0 {
		panic("file: negative reference count")
	}
	if f.ref == 0 {
		f.id = fileid.Empty
		f.Range = nil
		return true
	}
	return false
}

// RefCount reports the current reference count, for tests and metrics.
func (f *File) RefCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ref
}

// EnsureInitialized seeds Offset and Size from the real kernel descriptor
// exactly once (CAS-guarded so concurrent first-touches by different
// transactions race harmlessly). Only meaningful for variants with a
// kernel file position (regular files and character devices); other
// variants call this with fildes left at -1 and it is a no-op.
func (f *File) EnsureInitialized(kernelFildes int) error {
	if kernelFildes < 0 {
		return nil
	}
	if !f.offsetInit.CompareAndSwap(false, true) {
		return nil
	}
	off, err := kfd.Lseek(kernelFildes, 0, 1) // SEEK_CUR
	if err != nil {
		return err
	}
	st, err := kfd.Fstat(kernelFildes)
	if err != nil {
		return err
	}
	f.Offset.Store(off)
	f.Size.Store(st.Size)
	return nil
}

// Field returns the lock word for one of this file's fields. Every record
// carries all FieldCount words; field is not checked against
// fieldsForVariant(f.variant).
func (f *File) Field(field Field) *rangelock.Word {
	return &f.fields[field]
}

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

// Package ofd implements the L4 layer of spec.md: the per-transaction
// open-file-description view (ofd_tx). A single tagged type, OFDTx,
// plays the role spec.md §9 describes ("a base header ... plus the
// variant-specific tx state"); its Variant field selects which of the
// per-call exec/apply/undo methods in this package apply, instead of an
// inheritance graph over five near-identical types.
package ofd

import (
	"golang.org/x/sys/unix"

	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildes/rangelock"
)

// WriteOp is one entry of the transaction-local write_ops table
// (spec.md §3.6): bufoff indexes into WriteBuf, the contiguous
// transaction-local byte arena writes are staged into before commit.
type WriteOp struct {
	Offset int64
	NBytes int64
	BufOff int64
}

// ReadOp records a read for 2PL bookkeeping (spec.md §3.6); it carries
// no buffer since reads are never replayed from the log, only their
// range-lock footprint matters.
type ReadOp struct {
	Offset int64
	NBytes int64
}

// SeekOp records enough to undo a seek, though in practice seek's undo
// is a no-op (spec.md §4.5): kept for symmetry and for tests asserting
// the log shape.
type SeekOp struct {
	From   int64
	Offset int64
	Whence int
}

// OFDTx is the per-transaction OFD view (spec.md §3.6). One is created
// the first time a transaction's fd_tx resolves to a given File record,
// and is shared by every fildes (e.g. dup'd ones) that resolve to the
// same File within that transaction.
type OFDTx struct {
	File    *file.File
	Variant fileid.Variant
	CCMode  file.CCMode

	// Flags are the OFD-level status flags (O_APPEND, O_NONBLOCK, ...)
	// captured when this ofd_tx was first created.
	Flags int

	WriteBuf []byte
	WriteOps []WriteOp
	ReadOps  []ReadOp
	SeekOps  []SeekOp

	haveLocalOffset bool
	localOffset     int64

	haveLocalSize bool
	localSize     int64

	fieldState [file.FieldCount]file.FieldState

	// Range is the transaction-local shadow of File.Range, present only
	// for regular files (spec.md §4.2's rwstatemap).
	Range *rangelock.StateMap

	// refs counts how many fd_tx entries in this transaction resolve to
	// this ofd_tx (e.g. two fildes produced by dup of one original).
	refs int

	// kernelFildes is a representative real descriptor used to issue
	// apply-time syscalls (pread/pwrite/lseek/fsync/...). POSIX dup
	// shares one open file description in the kernel too, so any one of
	// the fildes bound to this OFD works.
	kernelFildes int

	// listenPending and listenBacklog record a socket listen() exec'd
	// under TwoPL until ApplyListen issues the real syscall at commit
	// (spec.md §4.5: "the real listen executes at apply").
	listenPending bool
	listenBacklog int
}

// New creates an ofd_tx the first time a transaction touches file. For
// regular files and character devices it seeds the shared File's
// Offset/Size from the real descriptor on the very first ofd_tx anyone
// creates for this File (spec.md §5's apply-time reconciliation needs a
// starting point to reconcile against). Flags is flags combined with the
// descriptor's current F_GETFL status flags.
func New(f *file.File, kernelFildes, flags int) (*OFDTx, error) {
	tx := &OFDTx{
		File:         f,
		Variant:      f.Variant(),
		CCMode:       f.CCMode(),
		Flags:        flags,
		kernelFildes: kernelFildes,
	}
	if fl, err := kfd.FcntlInt(kernelFildes, unix.F_GETFL, 0); err == nil {
		tx.Flags |= fl
	}
	switch tx.Variant {
	case fileid.VariantRegular:
		tx.Range = rangelock.NewStateMap()
		if err := f.EnsureInitialized(kernelFildes); err != nil {
			return nil, err
		}
	case fileid.VariantChrdev:
		if err := f.EnsureInitialized(kernelFildes); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// Ref records one more fd_tx resolving to this ofd_tx.
func (tx *OFDTx) Ref() { tx.refs++ }

// KernelFildes returns the representative real descriptor used for
// apply-time syscalls.
func (tx *OFDTx) KernelFildes() int { return tx.kernelFildes }

// LocalOffset returns the transaction's shadow file position, lazily
// initializing it from the file's shared offset field the first time it
// is consulted (spec.md §3.6). The shared field is read under the
// caller-held FieldOffset reader lock.
func (tx *OFDTx) LocalOffset() int64 {
	if !tx.haveLocalOffset {
		tx.localOffset = tx.File.Offset.Load()
		tx.haveLocalOffset = true
	}
	return tx.localOffset
}

// SetLocalOffset overwrites the shadow file position (used by seek and
// after advancing it past a read/write).
func (tx *OFDTx) SetLocalOffset(off int64) {
	tx.localOffset = off
	tx.haveLocalOffset = true
}

// LocalSize returns the transaction's shadow file size, lazily
// initializing it from the file's shared size field. The shared field
// is read under the caller-held FieldSize reader lock.
func (tx *OFDTx) LocalSize() int64 {
	if !tx.haveLocalSize {
		tx.localSize = tx.File.Size.Load()
		tx.haveLocalSize = true
	}
	return tx.localSize
}

// SetLocalSize overwrites the shadow file size (advanced by writes that
// extend the file).
func (tx *OFDTx) SetLocalSize(size int64) {
	tx.localSize = size
	tx.haveLocalSize = true
}

// FieldState returns the transaction-local lock state for one of the
// file's fields.
func (tx *OFDTx) FieldState(f file.Field) file.FieldState {
	return tx.fieldState[f]
}

// SetFieldState records the transaction-local lock state for a field.
func (tx *OFDTx) SetFieldState(f file.Field, st file.FieldState) {
	tx.fieldState[f] = st
}

// AppendWrite stages nbyte bytes of data into the write arena at the
// given offset and records the write_ops entry (spec.md §3.6).
func (tx *OFDTx) AppendWrite(offset int64, data []byte) WriteOp {
	off := int64(len(tx.WriteBuf))
	tx.WriteBuf = append(tx.WriteBuf, data...)
	op := WriteOp{Offset: offset, NBytes: int64(len(data)), BufOff: off}
	tx.WriteOps = append(tx.WriteOps, op)
	return op
}

// OverlayWrites copies into dst (which represents the caller's view of
// [offset, offset+len(dst))) any bytes this transaction has already
// written that intersect that range, implementing local visibility
// (spec.md §4.5's read contract and §8 invariant 6: "read after write to
// the same range returns the just-written bytes").
func (tx *OFDTx) OverlayWrites(offset int64, dst []byte) {
	rangeEnd := offset + int64(len(dst))
	for _, op := range tx.WriteOps {
		opEnd := op.Offset + op.NBytes
		lo := max64(offset, op.Offset)
		hi := min64(rangeEnd, opEnd)
		if lo >= hi {
			continue
		}
		srcStart := op.BufOff + (lo - op.Offset)
		copy(dst[lo-offset:hi-offset], tx.WriteBuf[srcStart:srcStart+(hi-lo)])
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

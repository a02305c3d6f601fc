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

package ofd

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// ExecPread implements spec.md §4.5's pread contract: lock [offset,
// offset+nbyte) for reading, issue the real pread so the kernel's page
// cache does the data movement, then overlay any bytes this transaction
// has itself already written so a read never misses its own writes
// (spec.md §8 invariant 6).
func (tx *OFDTx) ExecPread(offset, nbyte int64) ([]byte, *fildeserr.Error) {
	if tx.CCMode == file.TwoPL {
		if err := tx.File.Range.LockRange(tx.Range, offset, nbyte, false); err != nil {
			return nil, err.(*fildeserr.Error)
		}
	}

	buf := make([]byte, nbyte)
	n, err := kfd.Pread(tx.kernelFildes, buf, offset)
	if err != nil {
		return nil, fildeserr.Errno(err)
	}
	buf = buf[:n]
	tx.OverlayWrites(offset, buf)
	tx.ReadOps = append(tx.ReadOps, ReadOp{Offset: offset, NBytes: int64(n)})
	return buf, nil
}

// ExecRead implements read(2) in terms of pread at the transaction's
// local offset, advancing it by the number of bytes actually read
// (spec.md §4.5: "issue pread, not read, to decouple from kernel offset
// advancement").
func (tx *OFDTx) ExecRead(nbyte int64) ([]byte, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldOffset, false); ferr != nil {
		return nil, ferr
	}
	off := tx.LocalOffset()

	buf, ferr := tx.ExecPread(off, nbyte)
	if ferr != nil {
		return nil, ferr
	}
	tx.SetLocalOffset(off + int64(len(buf)))
	return buf, nil
}

// ExecPwrite implements spec.md §4.5's pwrite contract. Under TwoPL the
// bytes are staged into the write arena and applied at commit time;
// under NoUndo the write happens immediately since there is no undo to
// preserve and no lock to hold.
func (tx *OFDTx) ExecPwrite(offset int64, data []byte) (int64, *fildeserr.Error) {
	if tx.CCMode == file.TwoPL {
		if err := tx.File.Range.LockRange(tx.Range, offset, int64(len(data)), true); err != nil {
			return 0, err.(*fildeserr.Error)
		}
		tx.AppendWrite(offset, data)
		if end := offset + int64(len(data)); end > tx.LocalSize() {
			tx.SetLocalSize(end)
		}
		return int64(len(data)), nil
	}

	n, err := kfd.Pwrite(tx.kernelFildes, data, offset)
	if err != nil {
		return 0, fildeserr.Errno(err)
	}
	if end := offset + int64(n); end > tx.File.Size.Load() {
		tx.File.Size.Store(end)
	}
	return int64(n), nil
}

// ExecWrite implements write(2) in terms of pwrite at the transaction's
// local offset (append mode reads the file's current size first, since
// O_APPEND always targets end-of-file regardless of the caller's
// offset, per spec.md §4.5).
func (tx *OFDTx) ExecWrite(data []byte) (int64, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldOffset, true); ferr != nil {
		return 0, ferr
	}

	off := tx.LocalOffset()
	if tx.Flags&unix.O_APPEND != 0 {
		if ferr := tx.LockField(file.FieldSize, false); ferr != nil {
			return 0, ferr
		}
		off = tx.LocalSize()
	}

	n, ferr := tx.ExecPwrite(off, data)
	if ferr != nil {
		return 0, ferr
	}
	tx.SetLocalOffset(off + n)
	return n, nil
}

// ExecLseek implements spec.md §4.5's lseek contract: SEEK_SET and
// SEEK_CUR only ever consult the transaction's own shadow offset;
// SEEK_END additionally reader-locks FILE_SIZE, a small, deliberate
// widening of the field set lseek touches beyond FILE_OFFSET alone,
// since resolving end-of-file without it would let a concurrent truncate
// or extend go unnoticed.
func (tx *OFDTx) ExecLseek(offset int64, whence int) (int64, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldOffset, true); ferr != nil {
		return 0, ferr
	}

	from := tx.LocalOffset()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = from
	case io.SeekEnd:
		if ferr := tx.LockField(file.FieldSize, false); ferr != nil {
			return 0, ferr
		}
		base = tx.LocalSize()
	default:
		return 0, fildeserr.Errno(unix.EINVAL)
	}

	next := base + offset
	if next < 0 {
		return 0, fildeserr.Errno(unix.EINVAL)
	}
	tx.SetLocalOffset(next)
	tx.SeekOps = append(tx.SeekOps, SeekOp{From: from, Offset: offset, Whence: whence})
	return next, nil
}

// ExecFsync implements spec.md §4.5: under NoUndo it runs fsync(2)
// synchronously at exec time (there is no commit phase left to defer
// to); under TwoPL it is deferred to apply time, recorded as a plain
// marker in the event log by the caller.
func (tx *OFDTx) ExecFsync() *fildeserr.Error {
	if tx.CCMode != file.NoUndo {
		return nil // deferred; commit's apply phase issues the real fsync
	}
	if err := kfd.Fsync(tx.kernelFildes); err != nil {
		return fildeserr.Errno(err)
	}
	return nil
}

// ApplyFsync issues the real fsync(2) at commit time for a TwoPL
// transaction's fsync call.
func (tx *OFDTx) ApplyFsync() *fildeserr.Error {
	if err := kfd.Fsync(tx.kernelFildes); err != nil {
		return fildeserr.Errno(err)
	}
	return nil
}

// ApplyWrites replays every staged write_ops entry against the real
// kernel descriptor in log order, then reconciles the kernel's file
// position with the committed shadow offset via a final lseek (spec.md
// §4.6 step 4 / §5). It is a no-op for NoUndo transactions, whose
// writes already landed at exec time.
func (tx *OFDTx) ApplyWrites() *fildeserr.Error {
	if tx.CCMode != file.TwoPL {
		return nil
	}
	for _, op := range tx.WriteOps {
		data := tx.WriteBuf[op.BufOff : op.BufOff+op.NBytes]
		n, err := kfd.Pwrite(tx.kernelFildes, data, op.Offset)
		if err != nil {
			return fildeserr.Fatalf("ofd: apply pwrite failed: %v", err)
		}
		if int64(n) != op.NBytes {
			return fildeserr.Fatalf("ofd: apply pwrite short write %d/%d", n, op.NBytes)
		}
	}
	if tx.haveLocalSize {
		for {
			cur := tx.File.Size.Load()
			if tx.localSize <= cur {
				break
			}
			if tx.File.Size.CompareAndSwap(cur, tx.localSize) {
				break
			}
		}
	}
	if tx.haveLocalOffset {
		if _, err := kfd.Lseek(tx.kernelFildes, tx.localOffset, io.SeekStart); err != nil {
			return fildeserr.Fatalf("ofd: apply lseek failed: %v", err)
		}
		tx.File.Offset.Store(tx.localOffset)
	}
	return nil
}


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
	"golang.org/x/sys/unix"

	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// ExecChrdevRead and ExecChrdevWrite implement spec.md §3.2's chrdev
// variant: it carries FILE_OFFSET like a regular file, but its bytes
// never land in a local write buffer, since most character devices
// (ttys, /dev/null, /dev/random) have side effects a replay at apply
// time cannot reproduce faithfully. Like a FIFO write, a chrdev write is
// therefore NoUndo-only; a chrdev read has no undo concerns (nothing
// written) so it is allowed under either mode.
func (tx *OFDTx) ExecChrdevRead(nbyte int64) ([]byte, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldOffset, false); ferr != nil {
		return nil, ferr
	}
	off := tx.LocalOffset()
	buf := make([]byte, nbyte)
	n, err := kfd.Pread(tx.kernelFildes, buf, off)
	if err != nil {
		return nil, fildeserr.Errno(err)
	}
	buf = buf[:n]
	tx.SetLocalOffset(off + int64(n))
	tx.ReadOps = append(tx.ReadOps, ReadOp{Offset: off, NBytes: int64(n)})
	return buf, nil
}

func (tx *OFDTx) ExecChrdevWrite(data []byte) (int64, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldOffset, true); ferr != nil {
		return 0, ferr
	}
	if tx.CCMode != file.NoUndo {
		return 0, fildeserr.Revocable()
	}
	off := tx.LocalOffset()
	n, err := kfd.Pwrite(tx.kernelFildes, data, off)
	if err != nil {
		return 0, fildeserr.Errno(err)
	}
	tx.SetLocalOffset(off + int64(n))
	return int64(n), nil
}

// ExecChrdevLseek mirrors regfile's SEEK_SET/SEEK_CUR handling but never
// consults FILE_SIZE: most character devices report a meaningless size,
// so SEEK_END is rejected the way the original treats non-seekable
// special files it cannot reason about.
func (tx *OFDTx) ExecChrdevLseek(offset int64, whence int) (int64, *fildeserr.Error) {
	if whence != 0 && whence != 1 {
		return 0, fildeserr.Errno(unix.EINVAL)
	}
	if ferr := tx.LockField(file.FieldOffset, true); ferr != nil {
		return 0, ferr
	}
	from := tx.LocalOffset()
	base := int64(0)
	if whence == 1 {
		base = from
	}
	next := base + offset
	if next < 0 {
		return 0, fildeserr.Errno(unix.EINVAL)
	}
	tx.SetLocalOffset(next)
	tx.SeekOps = append(tx.SeekOps, SeekOp{From: from, Offset: offset, Whence: whence})
	return next, nil
}

// ApplyChrdevReadSeek reconciles the kernel's file position with the
// committed shadow offset, matching regfile's apply-time lseek (spec.md
// §4.5's read/lseek apply contracts); chrdev writes already happened at
// exec time under NoUndo, so there is nothing to replay for them.
func (tx *OFDTx) ApplyChrdevReadSeek() *fildeserr.Error {
	if !tx.haveLocalOffset {
		return nil
	}
	if _, err := kfd.Lseek(tx.kernelFildes, tx.localOffset, 0); err != nil {
		return fildeserr.Fatalf("ofd: chrdev apply lseek failed: %v", err)
	}
	tx.File.Offset.Store(tx.localOffset)
	return nil
}

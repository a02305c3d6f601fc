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

// ExecFifoRead implements read(2) on a pipe end: FIFOs have no byte
// offset (lseek on one fails ESPIPE, spec.md §3.2's variant table), so
// this locks READ_END rather than FILE_OFFSET and issues a plain read,
// with no local write-buffer overlay since a pipe's bytes are consumed
// exactly once and never addressed by offset.
func (tx *OFDTx) ExecFifoRead(buf []byte) (int, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldReadEnd, true); ferr != nil {
		return 0, ferr
	}
	n, err := kfd.Read(tx.kernelFildes, buf)
	if err != nil {
		return 0, fildeserr.Errno(err)
	}
	return n, nil
}

// ExecFifoWrite implements write(2) on a pipe end, locking WRITE_END.
// Like every pipe/socket write this is NoUndo-only: a byte pushed into
// a pipe cannot be un-pushed once a reader might have consumed it,
// unlike a regular-file write which is only ever visible after commit.
func (tx *OFDTx) ExecFifoWrite(data []byte) (int, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldWriteEnd, true); ferr != nil {
		return 0, ferr
	}
	if tx.CCMode != file.NoUndo {
		return 0, fildeserr.Revocable()
	}
	n, err := kfd.Write(tx.kernelFildes, data)
	if err != nil {
		return 0, fildeserr.Errno(err)
	}
	return n, nil
}

// ExecFifoLseek always fails ESPIPE, matching POSIX and spec.md §3.2's
// note that FIFOs carry no FILE_OFFSET field.
func (tx *OFDTx) ExecFifoLseek() (int64, *fildeserr.Error) {
	return 0, fildeserr.Errno(unix.ESPIPE)
}

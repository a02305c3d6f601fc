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
	"time"

	"golang.org/x/sys/unix"

	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// ListenPreflightTimeout is the "briefly select it with a 10-sec
// timeout" window spec.md §4.5 prescribes for non-blocking listen. It is
// process-wide, set once at startup from cfg.Config.
// ListenPreflightTimeoutSeconds via tx.Config, the same way
// internal/logger's level and format are process-wide settings rather
// than per-call arguments.
var ListenPreflightTimeout = 10 * time.Second

// ExecSocketSend stages outgoing bytes exactly like a regular-file write
// (spec.md §4.5's send contract): under TwoPL the data sits in WriteBuf
// until apply issues the real send(2) at commit; a non-zero flags word
// has no well-defined undo (e.g. MSG_OOB) and forces NoUndo.
func (tx *OFDTx) ExecSocketSend(data []byte, flags int) (int64, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldSendEnd, true); ferr != nil {
		return 0, ferr
	}
	if flags != 0 && tx.CCMode != file.NoUndo {
		return 0, fildeserr.Revocable()
	}
	if tx.CCMode == file.TwoPL {
		tx.AppendWrite(0, data)
		return int64(len(data)), nil
	}
	n, err := kfd.Send(tx.kernelFildes, data, flags)
	if err != nil {
		return 0, fildeserr.Errno(err)
	}
	return int64(n), nil
}

// ExecSocketRecv locks RECV_END and issues the real recv(2) immediately
// in every mode: unlike a regular-file read, a socket read consumes
// bytes from the peer that no other transaction could ever re-observe,
// so there is no benefit to deferring it. It returns only what the
// kernel delivers; this OFD's own sends still buffered for commit are
// not overlaid onto the result.
func (tx *OFDTx) ExecSocketRecv(buf []byte, flags int) (int, *fildeserr.Error) {
	if ferr := tx.LockField(file.FieldRecvEnd, false); ferr != nil {
		return 0, ferr
	}
	n, err := kfd.Recv(tx.kernelFildes, buf, flags)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, fildeserr.Errno(unix.EAGAIN)
		}
		return 0, fildeserr.Errno(err)
	}
	return n, nil
}

// ExecListen implements spec.md §4.5's listen contract: under STATE's
// writer lock, verify the socket is SOCK_STREAM, and if it is
// non-blocking, preflight with SelectReadable so a caller who is not
// actually about to service connections fails fast with Conflict rather
// than committing a listen no one will ever accept on. The real
// listen(2) always executes at apply.
func (tx *OFDTx) ExecListen(backlog int) *fildeserr.Error {
	if ferr := tx.LockField(file.FieldState, true); ferr != nil {
		return ferr
	}

	if !isStreamSocket(tx.kernelFildes) {
		return fildeserr.Errno(unix.EOPNOTSUPP)
	}

	nonblocking, _ := kfd.FcntlInt(tx.kernelFildes, unix.F_GETFL, 0)
	if nonblocking&unix.O_NONBLOCK != 0 {
		ok, serr := kfd.SelectReadable(tx.kernelFildes, ListenPreflightTimeout)
		if serr != nil {
			return fildeserr.Errno(serr)
		}
		if !ok {
			return fildeserr.Conflict("ofd: listen preflight saw no activity")
		}
	}

	tx.listenBacklog = backlog
	tx.listenPending = true
	return nil
}

func isStreamSocket(fildes int) bool {
	typ, err := unix.GetsockoptInt(fildes, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return false
	}
	return typ == unix.SOCK_STREAM
}

// ApplyListen issues the real listen(2) at commit time.
func (tx *OFDTx) ApplyListen() *fildeserr.Error {
	if !tx.listenPending {
		return nil
	}
	if err := kfd.Listen(tx.kernelFildes, tx.listenBacklog); err != nil {
		return fildeserr.Fatalf("ofd: apply listen failed: %v", err)
	}
	return nil
}

// ApplySocketSends replays every staged send in order, matching
// regfile's ApplyWrites.
func (tx *OFDTx) ApplySocketSends(flags int) *fildeserr.Error {
	if tx.CCMode != file.TwoPL {
		return nil
	}
	for _, op := range tx.WriteOps {
		data := tx.WriteBuf[op.BufOff : op.BufOff+op.NBytes]
		if _, err := kfd.Send(tx.kernelFildes, data, flags); err != nil {
			return fildeserr.Fatalf("ofd: apply send failed: %v", err)
		}
	}
	return nil
}

// ExecConnect is always NoUndo: a connection handshake cannot be
// unwound once the peer has observed it (spec.md §4.5).
func (tx *OFDTx) ExecConnect(sa unix.Sockaddr) *fildeserr.Error {
	if tx.CCMode != file.NoUndo {
		return fildeserr.Revocable()
	}
	if err := kfd.Connect(tx.kernelFildes, sa); err != nil {
		return fildeserr.Errno(err)
	}
	return nil
}

// ExecShutdown is always NoUndo for the same reason as connect.
func (tx *OFDTx) ExecShutdown(how int) *fildeserr.Error {
	if tx.CCMode != file.NoUndo {
		return fildeserr.Revocable()
	}
	if err := kfd.Shutdown(tx.kernelFildes, how); err != nil {
		return fildeserr.Errno(err)
	}
	return nil
}

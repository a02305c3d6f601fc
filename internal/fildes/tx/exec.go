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

package tx

import (
	"golang.org/x/sys/unix"

	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// ExecRead implements spec.md §4.5's read contract, dispatched to the
// variant-appropriate OFD method: regular files and character devices
// advance a position, FIFOs and sockets do not.
func (t *Tx) ExecRead(fildes int, nbyte int64) ([]byte, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return nil, err
	}
	var buf []byte
	var ferr *fildeserr.Error
	switch e.file.Variant() {
	case fileid.VariantRegular:
		buf, ferr = e.ofd.ExecRead(nbyte)
	case fileid.VariantChrdev:
		buf, ferr = e.ofd.ExecChrdevRead(nbyte)
	case fileid.VariantFIFO:
		b := make([]byte, nbyte)
		n, fe := e.ofd.ExecFifoRead(b)
		buf, ferr = b[:n], fe
	case fileid.VariantSocket:
		b := make([]byte, nbyte)
		n, fe := e.ofd.ExecSocketRecv(b, 0)
		buf, ferr = b[:n], fe
	default:
		return nil, fildeserr.Errno(unix.EBADF)
	}
	if ferr != nil {
		return nil, ferr
	}
	t.log(CallRead, fildes, 0)
	return buf, nil
}

// ExecPread implements pread(2); only regular files support it here, and
// every other variant fails with ESPIPE (spec.md §4.5: "pread/pwrite ...
// take only the range lock").
func (t *Tx) ExecPread(fildes int, nbyte, offset int64) ([]byte, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return nil, err
	}
	if e.file.Variant() != fileid.VariantRegular {
		return nil, fildeserr.Errno(unix.ESPIPE)
	}
	buf, ferr := e.ofd.ExecPread(offset, nbyte)
	if ferr != nil {
		return nil, ferr
	}
	t.log(CallPread, fildes, 0)
	return buf, nil
}

// ExecWrite implements spec.md §4.5's write contract across variants.
func (t *Tx) ExecWrite(fildes int, data []byte) (int64, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return 0, err
	}
	var n int64
	var ferr *fildeserr.Error
	switch e.file.Variant() {
	case fileid.VariantRegular:
		n, ferr = e.ofd.ExecWrite(data)
	case fileid.VariantChrdev:
		n, ferr = e.ofd.ExecChrdevWrite(data)
	case fileid.VariantFIFO:
		var m int
		m, ferr = e.ofd.ExecFifoWrite(data)
		n = int64(m)
	case fileid.VariantSocket:
		n, ferr = e.ofd.ExecSocketSend(data, 0)
	default:
		return 0, fildeserr.Errno(unix.EBADF)
	}
	if ferr != nil {
		return 0, ferr
	}
	t.log(CallWrite, fildes, 0)
	return n, nil
}

// ExecPwrite implements pwrite(2), regular files only.
func (t *Tx) ExecPwrite(fildes int, data []byte, offset int64) (int64, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return 0, err
	}
	if e.file.Variant() != fileid.VariantRegular {
		return 0, fildeserr.Errno(unix.ESPIPE)
	}
	n, ferr := e.ofd.ExecPwrite(offset, data)
	if ferr != nil {
		return 0, ferr
	}
	t.log(CallPwrite, fildes, 0)
	return n, nil
}

// ExecLseek implements spec.md §4.5's lseek contract, including the
// ESPIPE fast-fail for FIFOs and sockets.
func (t *Tx) ExecLseek(fildes int, offset int64, whence int) (int64, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return 0, err
	}
	var pos int64
	var ferr *fildeserr.Error
	switch e.file.Variant() {
	case fileid.VariantRegular:
		pos, ferr = e.ofd.ExecLseek(offset, whence)
	case fileid.VariantChrdev:
		pos, ferr = e.ofd.ExecChrdevLseek(offset, whence)
	case fileid.VariantFIFO, fileid.VariantSocket:
		pos, ferr = e.ofd.ExecFifoLseek()
	default:
		return 0, fildeserr.Errno(unix.EBADF)
	}
	if ferr != nil {
		return 0, ferr
	}
	t.log(CallLseek, fildes, 0)
	return pos, nil
}

// ExecOpen implements spec.md §4.5's open contract: the real openat runs
// immediately (there is no way to "buffer" opening a kernel file), the
// new fildes always gets a fresh binding, and an O_CREAT|O_EXCL open is
// tagged for unlink-on-abort.
func (t *Tx) ExecOpen(cwdFildes int, path string, oflag int, mode uint32) (int, error) {
	if oflag&unix.O_TRUNC != 0 && !t.irrevocable {
		return -1, fildeserr.Revocable()
	}

	fildes, err := kfd.Openat(cwdFildes, path, oflag, mode)
	if err != nil {
		return -1, fildeserr.Errno(err)
	}

	f, ferr := t.eng.refFildes(fildes)
	if ferr != nil {
		kfd.Close(fildes)
		return -1, ferr
	}
	if _, err := t.bindNew(fildes, f, true); err != nil {
		f.Unref()
		kfd.Close(fildes)
		return -1, err
	}

	cookie := len(t.openRecords)
	t.openRecords = append(t.openRecords, openRecord{
		path:          path,
		unlinkOnAbort: oflag&unix.O_CREAT != 0 && oflag&unix.O_EXCL != 0,
	})
	t.log(CallOpen, fildes, cookie)
	return fildes, nil
}

// ExecClose implements spec.md §4.5's close contract: transition the
// slot to Closing immediately. The real close(2) happens when the last
// reference drops, in Tx.finish.
func (t *Tx) ExecClose(fildes int) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}
	if err := e.slot.Close(); err != nil {
		return err
	}
	e.closedByTx = true
	t.log(CallClose, fildes, 0)
	return nil
}

// ExecPipe implements spec.md §4.5's pipe contract: both ends get fresh
// bindings.
func (t *Tx) ExecPipe(cloexec bool) (r, w int, err error) {
	flags := 0
	if cloexec {
		flags = unix.O_CLOEXEC
	}
	r, w, kerr := kfd.Pipe2(flags)
	if kerr != nil {
		return -1, -1, fildeserr.Errno(kerr)
	}

	for _, fildes := range []int{r, w} {
		f, ferr := t.eng.refFildes(fildes)
		if ferr != nil {
			kfd.Close(r)
			kfd.Close(w)
			return -1, -1, ferr
		}
		if _, berr := t.bindNew(fildes, f, true); berr != nil {
			f.Unref()
			kfd.Close(r)
			kfd.Close(w)
			return -1, -1, berr
		}
	}

	t.log(CallPipe, r, 0)
	t.log(CallPipe, w, 0)
	return r, w, nil
}

// ExecDup implements spec.md §4.5's dup contract. The duplicate shares
// the source's OFD (spec.md's supplemented "ofdid" feature: two fildes
// produced by dup resolve to the same ofd_tx), not a fresh one.
func (t *Tx) ExecDup(fildes int, cloexec bool) (int, error) {
	src, err := t.resolveFD(fildes, false)
	if err != nil {
		return -1, err
	}

	newFildes, kerr := kfd.Dup(fildes, cloexec)
	if kerr != nil {
		return -1, fildeserr.Errno(kerr)
	}

	slot := t.eng.fdTab.Slot(newFildes)
	_, version, aerr := slot.Acquire(true, func() (*file.File, error) {
		src.file.Ref()
		return src.file, nil
	})
	if aerr != nil {
		kfd.Close(newFildes)
		return -1, aerr
	}

	e := &fdEntry{
		fildes:          newFildes,
		slot:            slot,
		file:            src.file,
		ofd:             src.ofd,
		cc:              src.ofd.CCMode,
		acquiredVersion: version,
		wantNewOpened:   true,
	}
	src.ofd.Ref()
	t.fds[newFildes] = e

	t.log(CallDup, newFildes, 0)
	return newFildes, nil
}

// ExecFcntl dispatches the fcntl forms (spec.md §4.5): F_GETFD/F_SETFD
// are fildes-local and handled entirely at the fd layer without ever
// touching the OFD; every other form is OFD-wide and delegates to
// package ofd.
func (t *Tx) ExecFcntl(fildes int, cmd int, arg int) (int, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return 0, err
	}

	switch cmd {
	case unix.F_GETFD:
		if e.slot.Cloexec() {
			return unix.FD_CLOEXEC, nil
		}
		return 0, nil
	case unix.F_SETFD:
		if !e.cloexecChanged {
			e.cloexecBefore = e.slot.Cloexec()
			e.cloexecChanged = true
		}
		version := e.slot.SetCloexec(arg&unix.FD_CLOEXEC != 0)
		e.acquiredVersion = version
		e.localStateChanged = true
		t.log(CallFcntlSetFD, fildes, 0)
		return 0, nil
	case unix.F_GETFL, unix.F_GETOWN:
		n, ferr := e.ofd.ExecFcntlGet(cmd)
		if ferr != nil {
			return 0, ferr
		}
		return n, nil
	default:
		n, ferr := e.ofd.ExecFcntlSetNoUndo(cmd, arg)
		if ferr != nil {
			return 0, ferr
		}
		return n, nil
	}
}

// ExecFcntlLock handles the record-locking fcntl forms (F_GETLK, F_SETLK,
// F_SETLKW), which take a *unix.Flock_t rather than an int arg and so
// cannot go through ExecFcntl's dispatch. F_GETLK is read-only OFD-wide
// state; F_SETLK/F_SETLKW both mutate OFD-wide lock state the engine
// cannot undo and so are NoUndo-only, differing only in whether a
// conflicting lock blocks (F_SETLKW) or fails with EAGAIN (F_SETLK),
// spec.md's supplemented locking feature (see SPEC_FULL.md).
func (t *Tx) ExecFcntlLock(fildes, cmd int, lk *unix.Flock_t) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}

	switch cmd {
	case unix.F_GETLK:
		if ferr := e.ofd.ExecFcntlGetLock(lk); ferr != nil {
			return ferr
		}
		return nil
	case unix.F_SETLK:
		if ferr := e.ofd.ExecFcntlSetLockNoWait(lk); ferr != nil {
			return ferr
		}
		return nil
	case unix.F_SETLKW:
		if ferr := e.ofd.ExecFcntlSetLockWait(lk); ferr != nil {
			return ferr
		}
		return nil
	default:
		return fildeserr.Errno(unix.EINVAL)
	}
}

// ExecFsync implements spec.md §4.5's fsync contract.
func (t *Tx) ExecFsync(fildes int) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}
	if ferr := e.ofd.ExecFsync(); ferr != nil {
		return ferr
	}
	t.log(CallFsync, fildes, 0)
	return nil
}

// ExecSync implements spec.md §4.5's sync contract: it runs immediately
// at exec and again at commit apply, in every CC mode.
func (t *Tx) ExecSync() {
	kfd.Sync()
	t.log(CallSync, -1, 0)
}

// ExecSocket, ExecBind, ExecConnect, ExecListen, ExecAccept, ExecSend,
// ExecRecv, ExecShutdown implement spec.md §4.5's socket family.

func (t *Tx) ExecSocket(domain, typ, proto int) (int, error) {
	fildes, err := kfd.Socket(domain, typ, proto)
	if err != nil {
		return -1, fildeserr.Errno(err)
	}
	f, ferr := t.eng.refFildes(fildes)
	if ferr != nil {
		kfd.Close(fildes)
		return -1, ferr
	}
	if _, berr := t.bindNew(fildes, f, true); berr != nil {
		f.Unref()
		kfd.Close(fildes)
		return -1, berr
	}
	t.log(CallSocket, fildes, 0)
	return fildes, nil
}

func (t *Tx) ExecBind(fildes int, sa unix.Sockaddr) error {
	if !t.irrevocable {
		return fildeserr.Revocable()
	}
	if err := kfd.Bind(fildes, sa); err != nil {
		return fildeserr.Errno(err)
	}
	t.log(CallBind, fildes, 0)
	return nil
}

func (t *Tx) ExecConnect(fildes int, sa unix.Sockaddr) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}
	if ferr := e.ofd.ExecConnect(sa); ferr != nil {
		return ferr
	}
	t.log(CallConnect, fildes, 0)
	return nil
}

func (t *Tx) ExecListen(fildes, backlog int) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}
	if ferr := e.ofd.ExecListen(backlog); ferr != nil {
		return ferr
	}
	t.log(CallListen, fildes, 0)
	return nil
}

// ExecAccept implements spec.md §4.5's accept contract: like
// open/pipe/dup/socket, the new fildes is reversible by closing it, so
// unlike connect/shutdown this does not force irrevocable mode.
func (t *Tx) ExecAccept(fildes int) (int, unix.Sockaddr, error) {
	newFildes, sa, err := kfd.Accept(fildes)
	if err != nil {
		return -1, nil, fildeserr.Errno(err)
	}
	f, ferr := t.eng.refFildes(newFildes)
	if ferr != nil {
		kfd.Close(newFildes)
		return -1, nil, ferr
	}
	if _, berr := t.bindNew(newFildes, f, true); berr != nil {
		f.Unref()
		kfd.Close(newFildes)
		return -1, nil, berr
	}
	t.log(CallAccept, newFildes, 0)
	return newFildes, sa, nil
}

func (t *Tx) ExecSend(fildes int, data []byte, flags int) (int64, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return 0, err
	}
	n, ferr := e.ofd.ExecSocketSend(data, flags)
	if ferr != nil {
		return 0, ferr
	}
	t.log(CallSend, fildes, 0)
	return n, nil
}

func (t *Tx) ExecRecv(fildes int, buf []byte, flags int) (int, error) {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return 0, err
	}
	n, ferr := e.ofd.ExecSocketRecv(buf, flags)
	if ferr != nil {
		return 0, ferr
	}
	t.log(CallRecv, fildes, 0)
	return n, nil
}

// ExecGetdents locks a directory's STATE field for reading, the only
// concurrency control a directory listing needs (spec.md §3.2's
// per-variant field table).
func (t *Tx) ExecGetdents(fildes int) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}
	if e.file.Variant() != fileid.VariantDir {
		return fildeserr.Errno(unix.ENOTDIR)
	}
	if ferr := e.ofd.ExecGetdents(); ferr != nil {
		return ferr
	}
	return nil
}

func (t *Tx) ExecShutdown(fildes, how int) error {
	e, err := t.resolveFD(fildes, false)
	if err != nil {
		return err
	}
	if ferr := e.ofd.ExecShutdown(how); ferr != nil {
		return ferr
	}
	t.log(CallShutdown, fildes, 0)
	return nil
}

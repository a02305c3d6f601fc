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

// Package kfd collects the real kernel syscalls the engine issues,
// keeping golang.org/x/sys/unix out of the exec/apply/undo logic so that
// logic stays testable against synthetic file ids. Every wrapper here
// corresponds 1:1 to a call named in spec.md §1/§4.5.
package kfd

import (
	"time"

	"golang.org/x/sys/unix"
)

// Pread reads up to len(buf) bytes at off without moving fildes's
// kernel file position (spec.md §4.5's read contract: "Issue pread, not
// read, to decouple from kernel offset advancement").
func Pread(fildes int, buf []byte, off int64) (int, error) {
	return unix.Pread(fildes, buf, off)
}

// Pwrite writes buf at off without moving fildes's kernel file
// position.
func Pwrite(fildes int, buf []byte, off int64) (int, error) {
	return unix.Pwrite(fildes, buf, off)
}

// Lseek repositions fildes's kernel file position, used at apply time
// to reconcile the kernel position with the committed shadow offset
// (spec.md §4.5, §5).
func Lseek(fildes int, offset int64, whence int) (int64, error) {
	return unix.Seek(fildes, offset, whence)
}

// Fstat returns the current size and other metadata of fildes, used to
// resolve SEEK_END.
func Fstat(fildes int) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstat(fildes, &st)
	return st, err
}

// Openat performs the real open(2) relative to dirfd.
func Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	return unix.Openat(dirfd, path, flags, mode)
}

// Close performs the real close(2).
func Close(fildes int) error {
	return unix.Close(fildes)
}

// Pipe2 performs the real pipe2(2).
func Pipe2(flags int) (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], flags); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// Dup performs fcntl(F_DUPFD) or fcntl(F_DUPFD_CLOEXEC, 0), matching
// spec.md §4.5's dup contract.
func Dup(fildes int, cloexec bool) (int, error) {
	cmd := unix.F_DUPFD
	if cloexec {
		cmd = unix.F_DUPFD_CLOEXEC
	}
	return unix.FcntlInt(uintptr(fildes), cmd, 0)
}

// FcntlInt issues fcntl(fildes, cmd, arg).
func FcntlInt(fildes, cmd, arg int) (int, error) {
	return unix.FcntlInt(uintptr(fildes), cmd, arg)
}

// FcntlFlock issues fcntl(fildes, cmd, lk) for the F_SETLK/F_SETLKW/
// F_GETLK record-locking forms.
func FcntlFlock(fildes, cmd int, lk *unix.Flock_t) error {
	return unix.FcntlFlock(uintptr(fildes), cmd, lk)
}

// Stat returns metadata for path without following through an open
// descriptor, used by open's undo to confirm the path still names the
// inode this transaction just created before unlinking it.
func Stat(path string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Stat(path, &st)
	return st, err
}

// Unlink performs the real unlink(2), used by open's undo when the
// transaction created the file with O_CREAT|O_EXCL (spec.md §4.5).
func Unlink(path string) error {
	return unix.Unlink(path)
}

// Socket, Bind, Listen, Connect, Accept, Shutdown wrap the matching
// socket syscalls.
func Socket(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ, proto)
}

func Bind(fildes int, sa unix.Sockaddr) error {
	return unix.Bind(fildes, sa)
}

func Listen(fildes, backlog int) error {
	return unix.Listen(fildes, backlog)
}

func Connect(fildes int, sa unix.Sockaddr) error {
	return unix.Connect(fildes, sa)
}

func Accept(fildes int) (int, unix.Sockaddr, error) {
	return unix.Accept(fildes)
}

func Shutdown(fildes, how int) error {
	return unix.Shutdown(fildes, how)
}

// Send issues send(2) via sendto(fildes, buf, flags, NULL, 0), honoring
// flags (e.g. MSG_OOB) rather than silently degrading to a plain write.
func Send(fildes int, buf []byte, flags int) (int, error) {
	if flags == 0 {
		return unix.Write(fildes, buf)
	}
	if err := unix.Sendto(fildes, buf, flags, nil); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Recv issues recv(2) via recvfrom(fildes, buf, flags), honoring flags
// (e.g. MSG_PEEK) rather than silently degrading to a plain read.
func Recv(fildes int, buf []byte, flags int) (int, error) {
	if flags == 0 {
		return unix.Read(fildes, buf)
	}
	n, _, err := unix.Recvfrom(fildes, buf, flags)
	return n, err
}

// Read and Write issue the plain, position-less syscalls required by
// descriptors that do not support pread/pwrite (pipes, sockets):
// attempting a positioned read/write on either fails with ESPIPE on
// Linux, so FIFO and socket exec/apply paths use these instead of
// kfd.Pread/kfd.Pwrite.
func Read(fildes int, buf []byte) (int, error) {
	return unix.Read(fildes, buf)
}

func Write(fildes int, buf []byte) (int, error) {
	return unix.Write(fildes, buf)
}

func Fsync(fildes int) error {
	return unix.Fsync(fildes)
}

// Sync performs the global sync(2).
func Sync() {
	unix.Sync()
}

// SelectReadable blocks up to timeout for fildes to become readable
// (connections pending to accept), used by listen's non-blocking
// preflight (spec.md §4.5: "briefly select it with a 10-sec timeout").
func SelectReadable(fildes int, timeout time.Duration) (bool, error) {
	fdset := &unix.FdSet{}
	fdZero(fdset)
	fdSet(fdset, fildes)

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(fildes+1, fdset, nil, nil, &tv)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSet(set *unix.FdSet, fd int) {
	idx := fd / 64
	bit := uint(fd % 64)
	set.Bits[idx] |= 1 << bit
}

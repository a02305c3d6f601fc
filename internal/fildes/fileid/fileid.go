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

// Package fileid identifies the kernel file object behind a file
// descriptor, independent of which fildes currently refers to it.
//
// See spec.md §3.1.
package fileid

import (
	"golang.org/x/sys/unix"
)

// ID is the tuple (device, inode, mode, flags) used to intern file
// records. Equality is lexicographic over the tuple. For FIFOs the
// O_RDONLY/O_WRONLY bit of Flags is significant: the read end and the
// write end of the same pipe are different identities.
type ID struct {
	Device uint64
	Inode  uint64
	Mode   uint32
	Flags  int // only the O_ACCMODE bits matter, and only for FIFOs
}

// Empty is the sentinel identity of an unreferenced file slot (spec.md
// §3.2 invariant I1: a file is live iff its id is non-empty).
var Empty ID

// IsEmpty reports whether id is the unused-slot sentinel.
func (id ID) IsEmpty() bool { return id == Empty }

// Less provides the lexicographic order (device, inode, mode, flags)
// used when file records are interned or sorted for commit-time locking.
func (id ID) Less(other ID) bool {
	if id.Device != other.Device {
		return id.Device < other.Device
	}
	if id.Inode != other.Inode {
		return id.Inode < other.Inode
	}
	if id.Mode != other.Mode {
		return id.Mode < other.Mode
	}
	return id.Flags < other.Flags
}

// Of computes the file-id for an already-open kernel file descriptor via
// fstat, plus fcntl(F_GETFL) to recover the access-mode bits needed for
// FIFO identity.
func Of(fildes int) (ID, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fildes, &st); err != nil {
		return ID{}, err
	}

	id := ID{
		Device: uint64(st.Dev),
		Inode:  st.Ino,
		Mode:   st.Mode,
	}

	if id.Mode&unix.S_IFMT == unix.S_IFIFO {
		flags, err := unix.FcntlInt(uintptr(fildes), unix.F_GETFL, 0)
		if err != nil {
			return ID{}, err
		}
		id.Flags = flags & unix.O_ACCMODE
	}

	return id, nil
}

// Variant classifies a file-id's kernel object into the variant whose
// field set and tx-dispatch table apply (spec.md §3.2).
type Variant int

const (
	VariantRegular Variant = iota
	VariantDir
	VariantFIFO
	VariantChrdev
	VariantSocket
)

func (v Variant) String() string {
	switch v {
	case VariantRegular:
		return "regfile"
	case VariantDir:
		return "dir"
	case VariantFIFO:
		return "fifo"
	case VariantChrdev:
		return "chrdev"
	case VariantSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// VariantOf classifies a file-id by its stat mode bits.
func VariantOf(id ID) Variant {
	switch id.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return VariantDir
	case unix.S_IFIFO:
		return VariantFIFO
	case unix.S_IFCHR:
		return VariantChrdev
	case unix.S_IFSOCK:
		return VariantSocket
	default:
		return VariantRegular
	}
}

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

// Package file implements the L2 layer of spec.md: the per-variant file
// record (regfile, dir, fifo, chrdev, socket), its field-granular locks,
// and the per-type file table that interns one record per live file-id.
package file

// Field names one of a variant's independently lockable attributes
// (spec.md §3.2). Not every variant uses every field; FieldCount bounds
// the array each file record carries.
type Field int

const (
	FieldMode Field = iota
	FieldOffset
	FieldSize
	FieldState
	FieldReadEnd
	FieldWriteEnd
	FieldRecvEnd
	FieldSendEnd

	FieldCount
)

func (f Field) String() string {
	switch f {
	case FieldMode:
		return "FILE_MODE"
	case FieldOffset:
		return "FILE_OFFSET"
	case FieldSize:
		return "FILE_SIZE"
	case FieldState:
		return "STATE"
	case FieldReadEnd:
		return "READ_END"
	case FieldWriteEnd:
		return "WRITE_END"
	case FieldRecvEnd:
		return "RECV_END"
	case FieldSendEnd:
		return "SEND_END"
	default:
		return "UNKNOWN_FIELD"
	}
}

// FieldState is the per-transaction lock state for one field (spec.md
// §4.1): at most one kernel-visible lock op is ever performed for a
// field even if the transaction re-locks it.
type FieldState int

const (
	FieldUnlocked FieldState = iota
	FieldRdLocked
	FieldWrLocked
)

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
	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// LockField acquires, at most once per transaction, the kernel-visible
// lock state a field operation needs (spec.md §4.1: "at most one lock
// op is ever performed for a field even if the transaction re-locks
// it"). A transaction that already holds the field read-locked and
// wants it write-locked attempts an upgrade. For a NoUndo ofd_tx it is a
// no-op, since NoUndo takes no locks (spec.md §4.1).
func (tx *OFDTx) LockField(f file.Field, write bool) *fildeserr.Error {
	if tx.CCMode == file.NoUndo {
		return nil
	}
	cur := tx.FieldState(f)
	switch {
	case write && cur == file.FieldWrLocked:
		return nil
	case !write && cur != file.FieldUnlocked:
		return nil
	}

	word := tx.File.Field(f)
	switch {
	case !write:
		if !word.TryRLock() {
			return fildeserr.Conflict("ofd: " + f.String() + " held by a writer")
		}
		tx.SetFieldState(f, file.FieldRdLocked)
		return nil
	case cur == file.FieldRdLocked:
		if !word.TryUpgrade() {
			return fildeserr.Conflict("ofd: " + f.String() + " has concurrent readers")
		}
		tx.SetFieldState(f, file.FieldWrLocked)
		return nil
	default:
		if !word.TryWLock() {
			return fildeserr.Conflict("ofd: " + f.String() + " already locked")
		}
		tx.SetFieldState(f, file.FieldWrLocked)
		return nil
	}
}

// UnlockFields releases every field this transaction locked, in
// ascending field order, matching spec.md §4.6's update_cc step. It is
// safe to call on an OFDTx that locked nothing.
func (tx *OFDTx) UnlockFields() {
	for f := file.Field(0); f < file.FieldCount; f++ {
		switch tx.FieldState(f) {
		case file.FieldRdLocked:
			tx.File.Field(f).UnlockRead()
		case file.FieldWrLocked:
			tx.File.Field(f).UnlockWrite()
		}
		tx.SetFieldState(f, file.FieldUnlocked)
	}
}

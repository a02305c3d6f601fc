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

// ExecGetdents reader-locks STATE and passes through to the real
// directory-reading syscall's result, which the caller (the L6 layer)
// already fetched via the kernel. Directories carry no other lockable
// field (spec.md §3.2's per-variant field table lists only STATE for
// VariantDir), so there is nothing here beyond the lock itself:
// getdents results are never buffered or replayed, since a transaction
// that lists a directory twice is expected to see the kernel's live
// answer both times.
func (tx *OFDTx) ExecGetdents() *fildeserr.Error {
	return tx.LockField(file.FieldState, false)
}
